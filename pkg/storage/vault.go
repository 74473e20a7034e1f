// Package storage keeps transformation maps so an authorized party can reverse
// anonymized or replaced output later.
package storage

import (
	"context"
	"time"

	"github.com/polisai/polis-safety/pkg/domain"
)

// Record is one stored transformation map.
type Record struct {
	ID        string                   `json:"id"`
	Policy    string                   `json:"policy"`
	CreatedAt time.Time                `json:"created_at"`
	Map       domain.TransformationMap `json:"transformation_map"`
}

// MapVault manages the storage and retrieval of transformation maps.
type MapVault interface {
	// Store keeps a copy of m and returns the record id.
	Store(ctx context.Context, policy string, m domain.TransformationMap) (string, error)

	// Load returns a copy of the record stored under id.
	Load(ctx context.Context, id string) (Record, error)

	// Restore reverses the replacements of item idx in text using record id.
	Restore(ctx context.Context, id string, idx int, text string) (string, error)

	// Delete removes the record. Deleting an unknown id is an error.
	Delete(ctx context.Context, id string) error
}

var (
	_ MapVault = (*MemoryMapVault)(nil)
	_ MapVault = (*FileMapVault)(nil)
)
