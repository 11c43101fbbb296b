package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Handler processes one discovered file.
type Handler func(ctx context.Context, path string, data []byte) error

// FileResult is the per-file outcome.
type FileResult struct {
	Path      string
	ElapsedMs int64
	Err       string
}

// DirStats summarizes a directory run.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// ProcessPath reads path and hands it to h.
func ProcessPath(ctx context.Context, path string, h Handler) FileResult {
	start := time.Now()
	res := FileResult{Path: path}
	data, err := os.ReadFile(path)
	if err == nil {
		err = h(ctx, path, data)
	}
	if err != nil {
		res.Err = err.Error()
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

// ProcessDirectory walks root, skips hidden entries if requested, and calls h
// for each file with an accepted extension. A failing file never stops the walk.
func ProcessDirectory(ctx context.Context, root string, skipHidden bool, h Handler) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && Hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Extractable(path) {
			return nil
		}
		stats.Matched++

		r := ProcessPath(ctx, path, h)
		results = append(results, r)
		if r.Err != "" {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
