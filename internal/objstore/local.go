package objstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sattrk/telarc/internal/errors"
)

// Dir is a Store backed by a local directory. The object under key k
// lives at root/k. Put writes through a temporary file and renames it
// into place, so a concurrent reader sees either the old object or the
// new one, never a partial write.
type Dir struct {
	root string
}

// NewDir returns a directory-backed store rooted at root, creating the
// directory if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.NewMissingField("root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create object root")
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

// Put writes data under key, creating parent directories as needed.
func (d *Dir) Put(ctx context.Context, key string, data []byte) error {
	dst := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create parent for %s", key)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "publish %s", key)
	}
	return nil
}

// Get reads the object under key. A missing key wraps fs.ErrNotExist.
func (d *Dir) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return data, nil
}

// List walks the tree under root and returns the objects whose key
// starts with prefix, sorted by key. In-flight temporary files are
// skipped.
func (d *Dir) List(ctx context.Context, prefix string) ([]Object, error) {
	out := make([]Object, 0)
	err := filepath.WalkDir(d.root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
