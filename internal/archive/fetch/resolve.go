package fetch

import (
	"path"
	"sort"
	"sync"

	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Registry maps channel names to their storage location. The table is
// built by scanning the column store once and can be reloaded after an
// ingest or sync pass creates new channels.
//
// The timestamp channel of each content type is deliberately absent:
// TIME is addressed through its content, never by name.
type Registry struct {
	store *colstore.Store

	mu       sync.RWMutex
	channels map[string]types.Channel
	names    []string
}

// NewRegistry scans the store and returns a ready registry.
func NewRegistry(store *colstore.Store) (*Registry, error) {
	r := &Registry{store: store}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the store. Queries in flight keep using the old table
// until the swap.
func (r *Registry) Reload() error {
	contents, err := r.store.Contents()
	if err != nil {
		return errors.Wrap(err, "scan store")
	}

	channels := make(map[string]types.Channel)
	for _, content := range contents {
		list, err := r.store.Channels(content)
		if err != nil {
			return errors.Wrapf(err, "scan content %s", content)
		}
		for _, ch := range list {
			if ch.IsTime() {
				continue
			}
			if prev, ok := channels[ch.Msid]; ok {
				// Contents scan in sorted order, so the winner is stable
				// across reloads.
				log.Warn("duplicate channel name, keeping first",
					"msid", ch.Msid, "kept", prev.Content, "dropped", ch.Content)
				continue
			}
			channels[ch.Msid] = ch
		}
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	r.channels = channels
	r.names = names
	r.mu.Unlock()
	return nil
}

// Len returns the number of known channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Lookup resolves an exact channel name, case-insensitively.
func (r *Registry) Lookup(name string) (types.Channel, error) {
	canon := types.NormalizeMsid(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[canon]
	if !ok {
		return types.Channel{}, errors.NewUnknownChannel(name)
	}
	return ch, nil
}

// Glob returns the channels matching a shell-style pattern, sorted by
// name. A pattern matching nothing is an unknown-channel error; one
// matching more than max channels is ambiguous. max <= 0 disables the
// cap.
func (r *Registry) Glob(pattern string, max int) ([]types.Channel, error) {
	canon := types.NormalizeMsid(pattern)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Channel
	for _, name := range r.names {
		ok, err := path.Match(canon, name)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidArgument, "bad pattern %q", pattern)
		}
		if ok {
			out = append(out, r.channels[name])
		}
	}
	if len(out) == 0 {
		return nil, errors.NewUnknownChannel(pattern)
	}
	if max > 0 && len(out) > max {
		return nil, errors.NewAmbiguous(pattern, len(out))
	}
	return out, nil
}
