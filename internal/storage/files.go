package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
)

// FileStore keeps uploads on disk keyed by content hash, so re-uploading the
// same bytes stores them once. Layout: <root>/<org>/<aa>/<sha256>.<ext>, plus
// a <file_id>.json pointer per upload.
type FileStore struct {
	Root   string
	Logger *slog.Logger
}

func NewFileStore(root string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{Root: root, Logger: logger}
}

// Ref is the pointer written for each upload.
type Ref struct {
	FileID     string    `json:"file_id"`
	OrgID      string    `json:"org_id"`
	Filename   string    `json:"filename"`
	SHA256     string    `json:"sha256"`
	Size       int       `json:"size"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
	Dedup      bool      `json:"deduplicated"`
}

// Save writes data and returns the content path. It satisfies
// extraction.FileSaver.
func (s *FileStore) Save(ctx context.Context, orgID, fileID, filename string, data []byte) (string, error) {
	ref, err := s.Put(ctx, orgID, fileID, filename, data)
	if err != nil {
		return "", err
	}
	return ref.Path, nil
}

// Put writes data unless the same content is already stored for orgID.
func (s *FileStore) Put(ctx context.Context, orgID, fileID, filename string, data []byte) (Ref, error) {
	v := common.NewValidator().
		Field("org_id", orgID, common.Required, common.Identifier).
		Field("file_id", fileID, common.Required, common.Identifier)
	if err := common.ValidateAndReturnError(v); err != nil {
		return Ref{}, err
	}
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	sum := sha256.Sum256(data)
	hexHash := hex.EncodeToString(sum[:])
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if ext == "" {
		ext = "bin"
	}
	dir := filepath.Join(s.Root, orgID, hexHash[:2])
	path := filepath.Join(dir, hexHash+"."+ext)

	ref := Ref{
		FileID:     fileID,
		OrgID:      orgID,
		Filename:   filename,
		SHA256:     hexHash,
		Size:       len(data),
		Path:       path,
		UploadedAt: time.Now().UTC(),
	}

	if _, err := os.Stat(path); err == nil {
		ref.Dedup = true
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Ref{}, fmt.Errorf("mkdir: %w", err)
		}
		if err := writeAtomic(path, data); err != nil {
			return Ref{}, err
		}
	} else {
		return Ref{}, fmt.Errorf("stat: %w", err)
	}

	meta, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return Ref{}, err
	}
	if err := writeAtomic(filepath.Join(s.Root, orgID, fileID+".json"), meta); err != nil {
		return Ref{}, err
	}

	s.Logger.Info("storage.save.ok",
		"org_id", orgID,
		"file_id", fileID,
		"sha256", hexHash,
		"bytes", len(data),
		"dedup", ref.Dedup,
	)
	return ref, nil
}

// Lookup reads the pointer written for fileID.
func (s *FileStore) Lookup(orgID, fileID string) (Ref, error) {
	b, err := os.ReadFile(filepath.Join(s.Root, orgID, fileID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return Ref{}, common.ErrNotFound
	}
	if err != nil {
		return Ref{}, err
	}
	var ref Ref
	if err := json.Unmarshal(b, &ref); err != nil {
		return Ref{}, fmt.Errorf("decode ref: %w", err)
	}
	return ref, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
