package filestore

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory keeps blobs in process memory. It backs tests and dry runs.
type Memory struct {
	blobs *xsync.MapOf[string, []byte]
}

func NewMemory() *Memory {
	return &Memory{blobs: xsync.NewMapOf[string, []byte]()}
}

func (m *Memory) Read(ctx context.Context, digest string) ([]byte, error) {
	data, ok := m.blobs.Load(digest)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Write(ctx context.Context, digest string, data []byte, description string) error {
	m.blobs.Store(digest, append([]byte(nil), data...))
	return nil
}

func (m *Memory) Exists(ctx context.Context, digest string) (bool, error) {
	_, ok := m.blobs.Load(digest)
	return ok, nil
}

// Len is the number of stored blobs.
func (m *Memory) Len() int {
	return m.blobs.Size()
}
