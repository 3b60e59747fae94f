package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Storage is the artifact-persistence capability RecordingIngest depends
// on. A successful Persist returns an opaque fileId and a canonical URL the
// client can later fetch the artifact from.
type Storage interface {
	Persist(ctx context.Context, callID string, data io.Reader, ext string) (fileID, url string, sizeBytes int64, err error)
}

// LocalStorage writes artifacts to a local filesystem directory, one file
// per fileId, and serves them back under publicBaseURL. Grounded in
// internal/media/recorder.go's file-on-disk handling (MkdirAll on the
// parent directory, os.Create, explicit byte count tracked as it writes).
type LocalStorage struct {
	dir           string
	publicBaseURL string
}

// NewLocalStorage creates a LocalStorage rooted at dir. publicBaseURL is
// prefixed onto the relative path handed back in Persist's url return
// value, so a caller behind a reverse proxy can fetch the artifact.
func NewLocalStorage(dir, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recordings storage directory: %w", err)
	}
	return &LocalStorage{dir: dir, publicBaseURL: publicBaseURL}, nil
}

// Persist implements Storage.
func (s *LocalStorage) Persist(ctx context.Context, callID string, data io.Reader, ext string) (string, string, int64, error) {
	fileID := uuid.NewString()
	fileName := fileID + ext
	fullPath := filepath.Join(s.dir, fileName)

	f, err := os.Create(fullPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("creating artifact file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, data)
	if err != nil {
		os.Remove(fullPath)
		return "", "", 0, fmt.Errorf("writing artifact: %w", err)
	}

	url := s.publicBaseURL + "/recordings/" + fileName
	return fileID, url, written, nil
}
