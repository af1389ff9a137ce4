package sync

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Cursor records a replica's progress through one content type. The
// replica's files are the ground truth for row counts; the cursor only
// lets the applier skip bundles it has fully applied without fetching
// them again.
type Cursor struct {
	// LastDateID is the date_id of the last fully applied bundle.
	LastDateID string `json:"last_date_id"`

	// Rows is the archive row count after that bundle.
	Rows int64 `json:"rows"`

	// Stats maps resolution to per-channel statistics row counts.
	Stats map[string]map[string]int64 `json:"stats,omitempty"`
}

func (c *Cursor) setStatRow(res types.Resolution, msid string, row int64) {
	if c.Stats == nil {
		c.Stats = make(map[string]map[string]int64)
	}
	m := c.Stats[res.String()]
	if m == nil {
		m = make(map[string]int64)
		c.Stats[res.String()] = m
	}
	m[msid] = row
}

// CursorStore persists cursors as one JSON file per content type.
type CursorStore struct {
	dir string
	mu  stdsync.Mutex
}

// NewCursorStore returns a cursor store rooted at dir, creating it if
// missing.
func NewCursorStore(dir string) (*CursorStore, error) {
	if dir == "" {
		return nil, errors.NewMissingField("cursor dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create cursor dir")
	}
	return &CursorStore{dir: dir}, nil
}

func (s *CursorStore) path(content string) string {
	return filepath.Join(s.dir, content+".json")
}

// Get returns the cursor of a content type. A content type never
// applied before gets a zero cursor.
func (s *CursorStore) Get(content string) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur Cursor
	data, err := os.ReadFile(s.path(content))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cur, nil
		}
		return cur, errors.Wrapf(err, "read cursor %s", content)
	}
	if err := json.Unmarshal(data, &cur); err != nil {
		return Cursor{}, errors.Wrapf(err, "decode cursor %s", content)
	}
	return cur, nil
}

// Put writes the cursor of a content type. The write goes through a
// temporary file and a rename so a crash never leaves a torn cursor.
func (s *CursorStore) Put(content string, cur Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode cursor %s", content)
	}

	dst := s.path(content)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "write cursor %s", content)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "publish cursor %s", content)
	}
	return nil
}
