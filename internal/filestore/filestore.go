// Package filestore is a content-addressed blob store. Blobs are keyed by
// the hex SHA-256 of their content and verified on every read.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrNotFound       = errors.New("blob not found")
	ErrDigestMismatch = errors.New("blob content does not match its digest")
	ErrInvalidDigest  = errors.New("malformed digest")
)

// blobs larger than this are not kept in memory
const maxCachedSize = 1 << 20

var digestRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Backend persists blobs by digest.
type Backend interface {
	Read(ctx context.Context, digest string) ([]byte, error)
	Write(ctx context.Context, digest string, data []byte, description string) error
	Exists(ctx context.Context, digest string) (bool, error)
}

type FileStore struct {
	backend Backend
	cache   *xsync.MapOf[string, []byte]
}

func New(backend Backend) *FileStore {
	return &FileStore{
		backend: backend,
		cache:   xsync.NewMapOf[string, []byte](),
	}
}

// Digest returns the key under which data is stored.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its digest. Storing the same bytes twice
// is a no-op.
func (fs *FileStore) Put(ctx context.Context, data []byte, description string) (string, error) {
	digest := Digest(data)
	if _, ok := fs.cache.Load(digest); ok {
		return digest, nil
	}
	exists, err := fs.backend.Exists(ctx, digest)
	if err != nil {
		return "", fmt.Errorf("failed to check blob %s: %w", digest, err)
	}
	if !exists {
		if err := fs.backend.Write(ctx, digest, data, description); err != nil {
			return "", fmt.Errorf("failed to store blob %s: %w", digest, err)
		}
	}
	fs.remember(digest, data)
	return digest, nil
}

// Get fetches a blob and checks that its content hashes to digest. The
// returned slice belongs to the caller.
func (fs *FileStore) Get(ctx context.Context, digest string) ([]byte, error) {
	if !digestRe.MatchString(digest) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	if data, ok := fs.cache.Load(digest); ok {
		if Digest(data) == digest {
			return bytes.Clone(data), nil
		}
		fs.cache.Delete(digest)
	}

	data, err := fs.backend.Read(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", digest, err)
	}
	if got := Digest(data); got != digest {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, digest, got)
	}
	fs.remember(digest, data)
	return data, nil
}

func (fs *FileStore) remember(digest string, data []byte) {
	if len(data) <= maxCachedSize {
		fs.cache.Store(digest, bytes.Clone(data))
	}
}
