package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Local keeps zstd-compressed blobs under a directory, sharded by the
// first two characters of the digest. Writes go through a temporary file
// and a rename so readers never see partial blobs.
type Local struct {
	fileDirectory string
	tmpDirectory  string
	encoder       *zstd.Encoder
	decoder       *zstd.Decoder
}

func NewLocal(root string) (*Local, error) {
	l := &Local{
		fileDirectory: filepath.Join(root, "files"),
		tmpDirectory:  filepath.Join(root, "tmp"),
	}
	if err := os.MkdirAll(l.fileDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create file store directory: %w", err)
	}
	if err := os.MkdirAll(l.tmpDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tmp directory: %w", err)
	}

	var err error
	if l.encoder, err = zstd.NewWriter(nil); err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if l.decoder, err = zstd.NewReader(nil); err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return l, nil
}

func (l *Local) path(digest string) (string, error) {
	if !digestRe.MatchString(digest) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	return filepath.Join(l.fileDirectory, digest[:2], digest+".zst"), nil
}

func (l *Local) Read(ctx context.Context, digest string) ([]byte, error) {
	path, err := l.path(digest)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	data, err := l.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return data, nil
}

func (l *Local) Write(ctx context.Context, digest string, data []byte, description string) error {
	path, err := l.path(digest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(l.tmpDirectory, digest+"-*")
	if err != nil {
		return fmt.Errorf("failed to create tmp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(l.encoder.EncodeAll(data, nil)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close tmp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move blob %s into the store: %w", digest, err)
	}
	if description != "" {
		descPath := filepath.Join(filepath.Dir(path), digest+".desc")
		if err := os.WriteFile(descPath, []byte(description), 0644); err != nil {
			return fmt.Errorf("failed to write description of %s: %w", digest, err)
		}
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, digest string) (bool, error) {
	path, err := l.path(digest)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}
