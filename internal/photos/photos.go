// Package photos validates and stores uploaded photos on the local
// filesystem under ULID-based names.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/metrics"
)

// ErrProcessing hides every unexpected storage failure behind one message
// that is safe to show to visitors.
var ErrProcessing = errors.New("Photo processing failed, please retry with lighter files")

// ValidationError reports an upload rejected by the configured limits.
type ValidationError struct {
	Reason   string // extension|mime|size|count
	Filename string
	Message  string
	// Param is the limit that was exceeded, for count and size.
	Param string
}

// Key is the message catalog key for the rejection.
func (e *ValidationError) Key() string { return "photos." + e.Reason }

func (e *ValidationError) Error() string {
	if e.Filename == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

// Stored describes a file written by Save.
type Stored struct {
	Key          string
	OriginalName string
	MIMEType     string
	SizeBytes    int64
}

type Store struct {
	dir          string
	maxSize      int64
	maxCount     int
	extensions   map[string]bool
	mimeTypes    map[string]bool
	publicPrefix string
	logger       zerolog.Logger
}

func NewStore(cfg config.PhotosConfig, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	s := &Store{
		dir:          cfg.StorageDir,
		maxSize:      cfg.MaxSizeBytes,
		maxCount:     cfg.MaxCount,
		extensions:   map[string]bool{},
		mimeTypes:    map[string]bool{},
		publicPrefix: strings.TrimRight(cfg.PublicPrefix, "/"),
		logger:       logger.With().Str("component", "photos").Logger(),
	}
	for _, ext := range cfg.AllowedExtensions {
		s.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	for _, mt := range cfg.AllowedMIMETypes {
		s.mimeTypes[strings.ToLower(mt)] = true
	}
	return s, nil
}

// Dir is the directory served under the public prefix.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) URL(key string) string {
	return s.publicPrefix + "/" + key
}

// Validate checks count, extension and declared size without reading files.
func (s *Store) Validate(files []*multipart.FileHeader) error {
	if s.maxCount > 0 && len(files) > s.maxCount {
		return s.reject(&ValidationError{Reason: "count", Message: fmt.Sprintf("at most %d photos are allowed", s.maxCount), Param: strconv.Itoa(s.maxCount)})
	}
	for _, fh := range files {
		ext := extension(fh.Filename)
		if !s.extensions[ext] {
			return s.reject(&ValidationError{Reason: "extension", Filename: fh.Filename, Message: "file type not allowed"})
		}
		if s.maxSize > 0 && fh.Size > s.maxSize {
			return s.reject(&ValidationError{Reason: "size", Filename: fh.Filename, Message: fmt.Sprintf("file exceeds %d MB", s.maxSize>>20), Param: strconv.FormatInt(s.maxSize>>20, 10)})
		}
	}
	return nil
}

// Save validates files, sniffs their content type and writes them to disk.
// On any failure, files already written by this call are removed.
func (s *Store) Save(ctx context.Context, files []*multipart.FileHeader) ([]Stored, error) {
	if err := s.Validate(files); err != nil {
		return nil, err
	}
	stored := make([]Stored, 0, len(files))
	for _, fh := range files {
		if err := ctx.Err(); err != nil {
			s.cleanup(stored)
			return nil, err
		}
		item, err := s.saveOne(fh)
		if err != nil {
			s.cleanup(stored)
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, s.reject(ve)
			}
			metrics.PhotosRejectedTotal.WithLabelValues("processing").Inc()
			s.logger.Error().Err(err).Str("filename", fh.Filename).Msg("photo processing failed")
			return nil, ErrProcessing
		}
		stored = append(stored, item)
	}
	return stored, nil
}

func (s *Store) saveOne(fh *multipart.FileHeader) (Stored, error) {
	src, err := fh.Open()
	if err != nil {
		return Stored{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Stored{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	mimeType := http.DetectContentType(head)
	if !s.mimeTypes[mimeType] {
		return Stored{}, &ValidationError{Reason: "mime", Filename: fh.Filename, Message: "file content is not an allowed image"}
	}

	key := strings.ToLower(ulid.Make().String()) + "." + extension(fh.Filename)
	path := filepath.Join(s.dir, key)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Stored{}, fmt.Errorf("create file: %w", err)
	}

	limit := s.maxSize
	if limit <= 0 {
		limit = 1 << 62
	}
	written, err := io.Copy(dst, io.LimitReader(io.MultiReader(bytes.NewReader(head), src), limit+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return Stored{}, fmt.Errorf("write file: %w", err)
	}
	if written > limit {
		_ = os.Remove(path)
		return Stored{}, &ValidationError{Reason: "size", Filename: fh.Filename, Message: fmt.Sprintf("file exceeds %d MB", s.maxSize>>20), Param: strconv.FormatInt(s.maxSize>>20, 10)}
	}

	return Stored{Key: key, OriginalName: filepath.Base(fh.Filename), MIMEType: mimeType, SizeBytes: written}, nil
}

// Delete removes a stored file. Missing files are not an error.
func (s *Store) Delete(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid photo key %q", key)
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}

func (s *Store) cleanup(stored []Stored) {
	for _, item := range stored {
		if err := s.Delete(item.Key); err != nil {
			s.logger.Warn().Err(err).Str("key", item.Key).Msg("failed to remove partial upload")
		}
	}
}

func (s *Store) reject(err *ValidationError) error {
	metrics.PhotosRejectedTotal.WithLabelValues(err.Reason).Inc()
	return err
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
