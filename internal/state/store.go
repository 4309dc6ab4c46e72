package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/util"
)

// tmpPrefix names the temp files Save creates next to the state file.
const tmpPrefix = ".state-"

// writeFunc is the atomic writer used by Save; tests swap it to simulate crashes.
type writeFunc func(path string, data []byte, perm os.FileMode, tmpPrefix string) error

// Store persists LoopState to a single YAML file. It is the only writer of
// that file. Writers across processes are serialized by the run lock.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
	write  writeFunc
	now    func() time.Time

	// completed is the completed list as last loaded or saved, used to refuse
	// saves that would lose finished stories.
	completed []string
	loaded    bool
}

// Open prepares a Store for path, creating its directory and removing any
// temp files left behind by an interrupted Save.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewPersistenceError("create state directory", err).WithPath(dir)
	}

	removed, err := util.RemoveStrayTemps(dir, tmpPrefix)
	if err != nil {
		return nil, errors.NewPersistenceError("remove stray temp files", err).WithPath(dir)
	}
	for _, p := range removed {
		logger.Warn("removed stray state temp file", "path", p)
	}

	return &Store{
		path:   path,
		logger: logger,
		write:  util.WriteFileAtomic,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted state, or Fresh() when no state file exists.
// An unreadable, unparsable or structurally invalid file is a
// PersistenceError wrapping ErrStateCorrupted; it never degrades to Fresh().
func (s *Store) Load() (LoopState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			st := Fresh()
			s.remember(st)
			return st, nil
		}
		return LoopState{}, errors.NewPersistenceError("read state file", err).WithPath(s.path)
	}

	st, err := decode(data)
	if err != nil {
		return LoopState{}, errors.NewPersistenceError(err.Error(), errors.ErrStateCorrupted).WithPath(s.path)
	}

	s.remember(st)
	return st, nil
}

func decode(data []byte) (LoopState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return LoopState{}, fmt.Errorf("state file is empty")
	}

	var st LoopState
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil {
		return LoopState{}, fmt.Errorf("parse state: %w", err)
	}
	if st.Version > CurrentVersion {
		return LoopState{}, fmt.Errorf("state version %d is newer than supported version %d", st.Version, CurrentVersion)
	}
	if err := st.Check(); err != nil {
		return LoopState{}, fmt.Errorf("invalid state: %w", err)
	}
	if st.CompletedStories == nil {
		st.CompletedStories = []string{}
	}
	return st, nil
}

// Save stamps st with the current time and format version and atomically
// replaces the state file. A crash at any point leaves either the previous
// file or the new one. Save refuses a state whose completed stories are not a
// superset of the persisted ones (ErrStateRegression).
func (s *Store) Save(st *LoopState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := st.Check(); err != nil {
		return errors.NewPersistenceError(fmt.Sprintf("refusing to save invalid state: %v", err), errors.ErrInvalidInput).WithPath(s.path)
	}
	if !s.loaded {
		s.rememberPersisted()
	}
	if s.loaded {
		for _, id := range s.completed {
			if !slices.Contains(st.CompletedStories, id) {
				return errors.NewPersistenceError(fmt.Sprintf("story %s would be dropped", id), errors.ErrStateRegression).WithPath(s.path)
			}
		}
	}

	return s.persist(st)
}

// Reset replaces the state file with Fresh(), bypassing the completed-stories
// check. It is only reachable from an explicit user command.
func (s *Store) Reset() (LoopState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Fresh()
	if err := s.persist(&st); err != nil {
		return LoopState{}, err
	}
	return st, nil
}

// persist writes st. The caller must hold the mutex.
func (s *Store) persist(st *LoopState) error {
	st.Version = CurrentVersion
	st.UpdatedAt = s.now()
	if st.CompletedStories == nil {
		st.CompletedStories = []string{}
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return errors.NewPersistenceError("encode state", err).WithPath(s.path)
	}
	if err := s.write(s.path, data, 0644, tmpPrefix); err != nil {
		return errors.NewPersistenceError("write state file", err).WithPath(s.path)
	}

	s.remember(*st)
	s.logger.Debug("state saved",
		"epic", st.Epic,
		"story", st.Story,
		"phase", string(st.Phase),
		"paused", st.Paused(),
		"completed", len(st.CompletedStories))
	return nil
}

// rememberPersisted records the completed list of the file on disk, if it
// can be read. The caller must hold the mutex.
func (s *Store) rememberPersisted() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	if st, err := decode(data); err == nil {
		s.remember(st)
	}
}

func (s *Store) remember(st LoopState) {
	s.completed = slices.Clone(st.CompletedStories)
	s.loaded = true
}
