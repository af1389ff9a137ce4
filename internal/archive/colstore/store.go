package colstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Store manages the column and statistics files of an archive rooted at a
// single directory. File handles are opened lazily and cached until Close.
//
// Directory layout:
//
//	root/data/<content>/<MSID>.dat    packed values
//	root/data/<content>/<MSID>.qual   quality flags
//	root/stats/5min/<content>/<MSID>.stat
//	root/stats/daily/<content>/<MSID>.stat
//
// A single writer per content type is assumed; concurrent readers are
// safe.
type Store struct {
	root string

	mu    sync.Mutex
	files map[string]*File
	stats map[string]*StatsFile
}

const (
	dataExt = ".dat"
	qualExt = ".qual"
	statExt = ".stat"
)

// NewStore opens a store rooted at dir, creating the skeleton directories
// if needed.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"data", "stats"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{
		root:  dir,
		files: make(map[string]*File),
		stats: make(map[string]*StatsFile),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// ContentDir returns the data directory of a content type.
func (s *Store) ContentDir(content string) string {
	return filepath.Join(s.root, "data", content)
}

// StatsDir returns the statistics directory of a content type at a
// resolution.
func (s *Store) StatsDir(res types.Resolution, content string) string {
	return filepath.Join(s.root, "stats", res.String(), content)
}

// DataPath returns the path of a channel's data file.
func (s *Store) DataPath(content, msid string) string {
	return filepath.Join(s.ContentDir(content), msid+dataExt)
}

// QualPath returns the path of a channel's quality file.
func (s *Store) QualPath(content, msid string) string {
	return filepath.Join(s.ContentDir(content), msid+qualExt)
}

// StatsPath returns the path of a channel's statistics file.
func (s *Store) StatsPath(res types.Resolution, content, msid string) string {
	return filepath.Join(s.StatsDir(res, content), msid+statExt)
}

// Contents lists the content types present in the store, sorted.
func (s *Store) Contents() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "data"))
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Channels lists the channels of a content type, sorted by name. The file
// headers are the registry; there is no separate channel metadata store.
func (s *Store) Channels(content string) ([]types.Channel, error) {
	entries, err := os.ReadDir(s.ContentDir(content))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNoCatalog(content)
		}
		return nil, fmt.Errorf("list channels of %s: %w", content, err)
	}

	var out []types.Channel
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, dataExt) {
			continue
		}
		msid := strings.TrimSuffix(name, dataExt)
		f, err := s.Data(content, msid)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Channel{
			Msid:    msid,
			Content: content,
			DType:   f.DType(),
			Width:   f.Width(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Msid < out[j].Msid })
	return out, nil
}

// CreateChannel creates the data/quality file pair for a channel.
func (s *Store) CreateChannel(ch types.Channel) error {
	if err := os.MkdirAll(s.ContentDir(ch.Content), 0755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}

	data, err := Create(s.DataPath(ch.Content, ch.Msid), ch.DType, ch.Width, 0)
	if err != nil {
		return err
	}
	qual, err := Create(s.QualPath(ch.Content, ch.Msid), types.DTypeBool, 0, flagQuality)
	if err != nil {
		data.Close()
		os.Remove(s.DataPath(ch.Content, ch.Msid))
		return err
	}

	s.mu.Lock()
	s.files[data.Path()] = data
	s.files[qual.Path()] = qual
	s.mu.Unlock()
	return nil
}

// Data returns the data file of a channel.
func (s *Store) Data(content, msid string) (*File, error) {
	return s.open(s.DataPath(content, msid))
}

// Quality returns the quality file of a channel.
func (s *Store) Quality(content, msid string) (*File, error) {
	return s.open(s.QualPath(content, msid))
}

func (s *Store) open(path string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[path]; ok {
		return f, nil
	}
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	s.files[path] = f
	return f, nil
}

// Stats returns the statistics file of a channel at a resolution. The
// file must already exist; the aggregation updater creates it.
func (s *Store) Stats(res types.Resolution, content, msid string) (*StatsFile, error) {
	path := s.StatsPath(res, content, msid)

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.stats[path]; ok {
		return f, nil
	}
	f, err := OpenStats(path)
	if err != nil {
		return nil, err
	}
	s.stats[path] = f
	return f, nil
}

// OpenOrCreateStats returns the statistics file of a channel, creating it
// with the given layout if missing.
func (s *Store) OpenOrCreateStats(res types.Resolution, ch types.Channel, states []string) (*StatsFile, error) {
	if err := os.MkdirAll(s.StatsDir(res, ch.Content), 0755); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}
	path := s.StatsPath(res, ch.Content, ch.Msid)

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.stats[path]; ok {
		return f, nil
	}
	f, err := OpenOrCreateStats(path, Layout{
		Res:    res,
		DType:  ch.DType,
		Width:  ch.Width,
		States: states,
	})
	if err != nil {
		return nil, err
	}
	s.stats[path] = f
	return f, nil
}

// Rows returns the row count of a channel. The data and quality files
// must agree; a disagreement means a torn append and is reported, never
// papered over.
func (s *Store) Rows(content, msid string) (int64, error) {
	data, err := s.Data(content, msid)
	if err != nil {
		return 0, err
	}
	qual, err := s.Quality(content, msid)
	if err != nil {
		return 0, err
	}
	if data.Rows() != qual.Rows() {
		return 0, fmt.Errorf("%s/%s: data has %d rows, quality has %d: %w",
			content, msid, data.Rows(), qual.Rows(), errors.ErrCorrupt)
	}
	return data.Rows(), nil
}

// Append appends values and quality flags to a channel. The two slices
// must have equal length. The quality file is written first so a torn
// append leaves the data file readable and the misalignment detectable.
func (s *Store) Append(content, msid string, vals types.Array, quality []bool) error {
	if vals.Len() != len(quality) {
		return errors.NewValidation("append", "values and quality lengths differ")
	}
	if _, err := s.Rows(content, msid); err != nil {
		return err
	}

	qual, err := s.Quality(content, msid)
	if err != nil {
		return err
	}
	if err := qual.Append(types.Bools(quality)); err != nil {
		return err
	}

	data, err := s.Data(content, msid)
	if err != nil {
		return err
	}
	return data.Append(vals)
}

// Truncate rewinds every channel of a content type to the given row count.
// Channels already at or below it are left alone. The data file is cut
// before the quality file so an interrupted truncate looks like a torn
// append to Rows.
func (s *Store) Truncate(content string, row int64) error {
	channels, err := s.Channels(content)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		data, err := s.Data(content, ch.Msid)
		if err != nil {
			return err
		}
		if data.Rows() <= row {
			continue
		}
		if err := data.Truncate(row); err != nil {
			return err
		}

		qual, err := s.Quality(content, ch.Msid)
		if err != nil {
			return err
		}
		if err := qual.Truncate(row); err != nil {
			return err
		}
	}
	return nil
}

// ReadColumn returns the values and quality flags in [row0, row1).
func (s *Store) ReadColumn(content, msid string, row0, row1 int64) (types.Array, []bool, error) {
	data, err := s.Data(content, msid)
	if err != nil {
		return nil, nil, err
	}
	vals, err := data.Read(row0, row1)
	if err != nil {
		return nil, nil, err
	}

	qual, err := s.Quality(content, msid)
	if err != nil {
		return nil, nil, err
	}
	flags, err := qual.ReadBools(row0, row1)
	if err != nil {
		return nil, nil, err
	}
	return vals, flags, nil
}

// Close closes every open file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for path, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, path)
	}
	for path, f := range s.stats {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.stats, path)
	}
	return firstErr
}
