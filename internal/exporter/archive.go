package exporter

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// parallel blob fetches per export
const fetchers = 8

// WriteArchive writes a zstd-compressed tarball holding contest.json and
// every referenced blob under files/<digest>.
func (e *Exporter) WriteArchive(ctx context.Context, w io.Writer, contestID int64, opts Options) error {
	dump, err := e.Dump(ctx, contestID, opts)
	if err != nil {
		return err
	}

	blobs, err := e.fetch(ctx, dump.Files)
	if err != nil {
		return err
	}

	model, err := json.MarshalIndent(dump.Objects, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal contest: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	now := time.Now()
	if err := writeEntry(tw, "contest.json", model, now); err != nil {
		return err
	}
	for i, digest := range dump.Files {
		if err := writeEntry(tw, path.Join("files", digest), blobs[i], now); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}

	e.log.Info("contest exported", "contest_id", contestID, "files", len(dump.Files))
	return nil
}

// fetch downloads the blobs in parallel; the store verifies each digest.
func (e *Exporter) fetch(ctx context.Context, digests []string) ([][]byte, error) {
	blobs := make([][]byte, len(digests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchers)
	for i, digest := range digests {
		g.Go(func() error {
			data, err := e.files.Get(ctx, digest)
			if err != nil {
				return fmt.Errorf("failed to export file %s: %w", digest, err)
			}
			blobs[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
