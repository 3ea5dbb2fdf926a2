// Package session persists council state across engine restarts. Snapshots
// and the vote-log tail are written as JSON under the session directory,
// asynchronously so a turn never waits on disk, and optionally watched so
// external edits reload into the running council. A pidfile lock keeps two
// engine processes from sharing one session directory.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/logging"
)

// stateFile is the council-state filename inside the session directory.
const stateFile = "council.json"

// selfWriteWindow suppresses watcher events caused by our own saves.
const selfWriteWindow = 500 * time.Millisecond

// State is the persisted council record.
type State struct {
	Snapshot council.Snapshot `json:"snapshot"`
	Votes    []council.Vote   `json:"votes"`
	SavedAt  time.Time        `json:"saved_at"`
}

// VoteSource supplies the vote-log tail at save time.
type VoteSource func() []council.Vote

// Store reads and writes persisted council state. It implements
// council.Persister; save failures are logged at WARN and never propagate.
type Store struct {
	dir   string
	log   *logging.Logger
	votes VoteSource

	mu        sync.Mutex
	lastSaved time.Time
	wg        sync.WaitGroup
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithVoteSource sets the vote-log supplier persisted alongside snapshots.
func WithVoteSource(v VoteSource) StoreOption {
	return func(s *Store) { s.votes = v }
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, log *logging.Logger, opts ...StoreOption) (*Store, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFile)
}

// Save writes the state synchronously via a temp-file rename so readers
// never observe a partial write.
func (s *Store) Save(snap council.Snapshot) error {
	state := State{Snapshot: snap, SavedAt: time.Now()}
	if s.votes != nil {
		state.Votes = s.votes()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSaved = time.Now()
	s.mu.Unlock()
	return nil
}

// SaveAsync persists the snapshot without blocking the caller.
func (s *Store) SaveAsync(snap council.Snapshot) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Save(snap); err != nil {
			s.log.Warn("council state save failed", "path", s.Path(), "error", err.Error())
		}
	}()
}

// Drain waits for all in-flight asynchronous saves.
func (s *Store) Drain() {
	s.wg.Wait()
}

// Load reads the persisted state. A missing file returns (nil, nil): a
// fresh session, not an error.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Watch reloads the state file when it changes externally and hands each
// successfully parsed State to onReload. Events inside the self-write
// window are ignored so the store does not react to its own saves. Watch
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onReload func(State)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != stateFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			s.mu.Lock()
			selfWrite := time.Since(s.lastSaved) < selfWriteWindow
			s.mu.Unlock()
			if selfWrite {
				continue
			}
			state, err := s.Load()
			if err != nil {
				s.log.Warn("council state reload failed", "path", s.Path(), "error", err.Error())
				continue
			}
			if state != nil {
				s.log.Info("council state reloaded from disk", "votes", len(state.Votes))
				onReload(*state)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("session watcher error", "error", err.Error())
		}
	}
}
