package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/requestctx"
)

type auditCall struct {
	Action   string
	Resource string
	ID       int64
	Status   string
	Details  map[string]string
}

// recordingAudit keeps every entry so tests can assert on the trail.
type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *recordingAudit) Record(_ context.Context, action, resourceType string, resourceID int64, status string, details map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{Action: action, Resource: resourceType, ID: resourceID, Status: status, Details: details})
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.Action+":"+c.Status)
	}
	return out
}

var testAdmin = requestctx.Actor{ID: 1, Username: "ada", Role: "super_admin"}

func jsonRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func asActor(req *http.Request, actor requestctx.Actor) *http.Request {
	return req.WithContext(requestctx.WithActor(req.Context(), actor))
}

func withPath(req *http.Request, kv ...string) *http.Request {
	for i := 0; i+1 < len(kv); i += 2 {
		req.SetPathValue(kv[i], kv[i+1])
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func problemType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	body := decodeBody(t, w)
	typ, _ := body["type"].(string)
	return typ
}
