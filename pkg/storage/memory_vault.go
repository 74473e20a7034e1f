package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-safety/pkg/domain"
)

// MemoryMapVault is an in-memory implementation of MapVault.
type MemoryMapVault struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryMapVault creates a new in-memory map vault.
func NewMemoryMapVault() *MemoryMapVault {
	return &MemoryMapVault{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Store keeps a copy of m and returns the record id.
func (v *MemoryMapVault) Store(ctx context.Context, policy string, m domain.TransformationMap) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	rec := Record{
		ID:        id,
		Policy:    policy,
		CreatedAt: v.now().UTC(),
		Map:       cloneMap(m),
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[id] = rec
	return id, nil
}

// Load returns a copy of the record stored under id.
func (v *MemoryMapVault) Load(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	rec, ok := v.records[id]
	if !ok {
		return Record{}, fmt.Errorf("storage: record %s: %w", id, domain.ErrNotFound)
	}
	rec.Map = cloneMap(rec.Map)
	return rec, nil
}

// Restore reverses the replacements of item idx in text using record id.
func (v *MemoryMapVault) Restore(ctx context.Context, id string, idx int, text string) (string, error) {
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
func (v *MemoryMapVault) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.records[id]; !ok {
		return fmt.Errorf("storage: record %s: %w", id, domain.ErrNotFound)
	}
	delete(v.records, id)
	return nil
}

// Len returns the number of stored records.
func (v *MemoryMapVault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

func cloneMap(m domain.TransformationMap) domain.TransformationMap {
	out := make(domain.TransformationMap, len(m))
	for idx, item := range m {
		copied := make(map[string]string, len(item))
		for k, v := range item {
			copied[k] = v
		}
		out[idx] = copied
	}
	return out
}
