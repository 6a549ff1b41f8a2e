package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /healthz endpoint.

This command is used by the container HEALTHCHECK. It exits with code 0
if the server is healthy, non-zero otherwise.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		Run: func(cmd *cobra.Command, args []string) {
			err := performHealthCheck(cmd.Context(), healthcheckTarget(), time.Duration(healthcheckTimeout)*time.Second)
			if err == nil {
				return
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Health check failed: %v\n", err)
			if errors.Is(err, errInvalidHealthResponse) {
				os.Exit(2)
			}
			os.Exit(1)
		},
	}

	healthcheckTimeout int
	healthcheckURL     string
)

var errInvalidHealthResponse = errors.New("invalid health response")

func init() {
	healthcheckCmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds")
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/healthz)")
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthcheckTarget() string {
	if healthcheckURL != "" {
		return healthcheckURL
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("http://localhost:%s/healthz", port)
}

// performHealthCheck accepts a 200 whose body reports "ok" (liveness) or
// "healthy" (readiness).
func performHealthCheck(ctx context.Context, url string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", errInvalidHealthResponse, err)
	}

	switch body.Status {
	case "ok", "healthy":
		return nil
	default:
		return fmt.Errorf("unhealthy: status=%s", body.Status)
	}
}
