package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/polisai/polis-safety/pkg/domain"
)

// FileMapVault stores one JSON document per record in a directory, so maps
// written by one process can be restored by another.
type FileMapVault struct {
	dir string
	now func() time.Time
}

var recordIDPattern = regexp.MustCompile(`^[0-9a-f-]{36}$`)

// NewFileMapVault creates the directory if needed and returns a vault rooted there.
func NewFileMapVault(dir string) (*FileMapVault, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: %w: vault directory is required", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create vault directory: %w", err)
	}
	return &FileMapVault{dir: dir, now: time.Now}, nil
}

// Store writes a record for m and returns its id.
func (v *FileMapVault) Store(ctx context.Context, policy string, m domain.TransformationMap) (string, error) {
	rec := Record{
		ID:        uuid.New().String(),
		Policy:    policy,
		CreatedAt: v.now().UTC(),
		Map:       cloneMap(m),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("storage: encode record: %w", err)
	}

	path := v.path(rec.ID)
	tmp := path + ".tmp"
	err = withRetry(ctx, func() error {
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
	if err != nil {
		return "", fmt.Errorf("storage: write record %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Load reads the record stored under id.
func (v *FileMapVault) Load(ctx context.Context, id string) (Record, error) {
	if !recordIDPattern.MatchString(id) {
		return Record{}, fmt.Errorf("storage: record %s: %w", id, domain.ErrNotFound)
	}
	var data []byte
	err := withRetry(ctx, func() error {
		var readErr error
		data, readErr = os.ReadFile(v.path(id))
		return readErr
	})
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("storage: record %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("storage: read record %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("storage: decode record %s: %w", id, err)
	}
	return rec, nil
}

// Restore reverses the replacements of item idx in text using record id.
func (v *FileMapVault) Restore(ctx context.Context, id string, idx int, text string) (string, error) {
	rec, err := v.Load(ctx, id)
	if err != nil {
		return "", err
	}
	restored, err := rec.Map.Restore(idx, text)
	if err != nil {
		return "", fmt.Errorf("storage: restore record %s: %w", id, err)
	}
	return restored, nil
}

// Delete removes the record stored under id.
func (v *FileMapVault) Delete(ctx context.Context, id string) error {
	if !recordIDPattern.MatchString(id) {
		return fmt.Errorf("storage: record %s: %w", id, domain.ErrNotFound)
	}
	err := withRetry(ctx, func() error { return os.Remove(v.path(id)) })
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: record %s: %w", id, domain.ErrNotFound)
	}
	return err
}

func (v *FileMapVault) path(id string) string {
	return filepath.Join(v.dir, id+".json")
}

// withRetry retries transient file errors a few times. Missing files and
// permission problems are returned immediately.
func withRetry(ctx context.Context, fn func() error) error {
	b := retry.WithMaxRetries(3, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, b, func(context.Context) error {
		err := fn()
		if err == nil || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return err
		}
		return retry.RetryableError(err)
	})
}
