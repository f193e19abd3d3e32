package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// DiskStore writes captures below a local directory. Each object gets a
// sibling .meta file holding its content type and metadata.
type DiskStore struct {
	dir string
}

type diskMeta struct {
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewDiskStore creates a DiskStore, creating dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

// Put implements Store. Keys are slash-separated paths relative to the
// store directory.
func (s *DiskStore) Put(_ context.Context, key string, obj Object) error {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return ErrInvalidKey
	}
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// Write to a temp file first so readers never see a partial capture.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, obj.Body, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	meta, err := json.Marshal(diskMeta{
		ContentType: obj.ContentType,
		Size:        int64(len(obj.Body)),
		Metadata:    obj.Metadata,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path+".meta", meta, 0644)
}

// Dir returns the store directory.
func (s *DiskStore) Dir() string {
	return s.dir
}
