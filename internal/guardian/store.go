package guardian

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/util"
)

const (
	recordExt         = ".md"
	requestSuffix     = ".resolution.yaml"
	recordTempPrefix  = ".anomaly-"
	requestTempPrefix = ".resolution-"
	fileTimeLayout    = "20060102T150405Z"
)

// Store persists anomaly records, one Markdown file each, in a directory.
// Records are never deleted. Resolution requests are dropped next to a
// record as "<record>.md.resolution.yaml" by whoever supplies the resolution and
// consumed by the running loop.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *logging.Logger
	now    func() time.Time
}

// NewStore returns a Store rooted at dir. The directory is created on first
// write.
func NewStore(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{dir: dir, logger: logger, now: time.Now}
}

// Dir returns the anomalies directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create records a new anomaly for verdict v on in and returns the stored record.
func (s *Store) Create(in Input, v Verdict) (*AnomalyRecord, error) {
	rec := NewRecord(uuid.NewString(), in, v, s.now())
	if err := s.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save writes rec. A record without an id gets a new one; a record without a
// file gets "<ts>-epic<E>-story<S>-<type>.md".
func (s *Store) Save(rec *AnomalyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(rec)
}

func (s *Store) save(rec *AnomalyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.File == "" {
		rec.File = s.newFileName(rec)
	}

	data, err := rec.Markdown()
	if err != nil {
		return fmt.Errorf("render anomaly %s: %w", rec.ID, err)
	}
	if err := util.WriteFileAtomic(rec.File, data, 0644, recordTempPrefix); err != nil {
		return errors.NewPersistenceError("failed to write anomaly record", err).WithPath(rec.File)
	}
	return nil
}

func (s *Store) newFileName(rec *AnomalyRecord) string {
	base := fmt.Sprintf("%s-epic%d", rec.CreatedAt.UTC().Format(fileTimeLayout), rec.Epic)
	if rec.Story != "" {
		base += "-story" + rec.Story
	}
	base += "-" + string(rec.Type)

	path := filepath.Join(s.dir, base+recordExt)
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(s.dir, base+"-"+rec.ShortID()+recordExt)
	}
	return path
}

// List returns all records, oldest first. Unreadable files are logged and
// skipped.
func (s *Store) List() ([]*AnomalyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *Store) list() ([]*AnomalyRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read anomalies directory: %w", err)
	}

	var records []*AnomalyRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.dir, name)
		rec, err := readRecord(path)
		if err != nil {
			s.logger.Warn("skipping unreadable anomaly record", "file", path, "error", err.Error())
			continue
		}
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b *AnomalyRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

// Unresolved returns records without a resolution, oldest first.
func (s *Store) Unresolved() ([]*AnomalyRecord, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, (*AnomalyRecord).Resolved), nil
}

// Find returns the record whose id equals or starts with id.
func (s *Store) Find(id string) (*AnomalyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

func (s *Store) find(id string) (*AnomalyRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewValidationError("anomaly id is required").WithField("id")
	}
	records, err := s.list()
	if err != nil {
		return nil, err
	}

	var matches []*AnomalyRecord
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
		if strings.HasPrefix(rec.ID, id) {
			matches = append(matches, rec)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errors.NewNotFoundError("anomaly", id)
	case 1:
		return matches[0], nil
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("anomaly id prefix matches %d records", len(matches))).
			WithField("id").
			WithValue(id)
	}
}

// Resolve appends res to the record exactly once. A second call returns
// ErrAlreadyResolved and leaves the record untouched.
func (s *Store) Resolve(id string, res Resolution) (*AnomalyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if rec.Resolved() {
		return rec, fmt.Errorf("%w: %s was resolved with %q at %s",
			errors.ErrAlreadyResolved, rec.ShortID(), rec.Resolution.Action, rec.Resolution.At.Format(time.RFC3339))
	}
	if res.At.IsZero() {
		res.At = s.now().UTC()
	}
	rec.Resolution = &res
	if err := s.save(rec); err != nil {
		rec.Resolution = nil
		return nil, err
	}
	s.logger.Info("anomaly resolved", "anomaly_id", rec.ID, "action", string(res.Action), "outcome", res.Outcome)
	return rec, nil
}

// RequestResolution drops a resolution request for the running loop to
// apply. It fails if the record is already resolved.
func (s *Store) RequestResolution(id string, res Resolution) (*AnomalyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if rec.Resolved() {
		return rec, fmt.Errorf("%w: %s", errors.ErrAlreadyResolved, rec.ShortID())
	}
	if res.At.IsZero() {
		res.At = s.now().UTC()
	}
	data, err := yaml.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode resolution request: %w", err)
	}
	path := RequestPath(rec)
	if err := util.WriteFileAtomic(path, data, 0644, requestTempPrefix); err != nil {
		return nil, errors.NewPersistenceError("failed to write resolution request", err).WithPath(path)
	}
	return rec, nil
}

// PendingRequest returns the resolution request dropped for rec, or nil.
func (s *Store) PendingRequest(rec *AnomalyRecord) (*Resolution, error) {
	data, err := os.ReadFile(RequestPath(rec))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read resolution request: %w", err)
	}
	var res Resolution
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("invalid resolution request %s: %w", RequestPath(rec), err)
	}
	action, err := ParseAction(string(res.Action))
	if err != nil {
		return nil, fmt.Errorf("invalid resolution request %s: %w", RequestPath(rec), err)
	}
	res.Action = action
	return &res, nil
}

// ClearRequest removes the resolution request for rec, if any.
func (s *Store) ClearRequest(rec *AnomalyRecord) error {
	if err := os.Remove(RequestPath(rec)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove resolution request: %w", err)
	}
	return nil
}

// RequestPath is where a resolution request for rec is expected.
func RequestPath(rec *AnomalyRecord) string {
	return rec.File + requestSuffix
}

func readRecord(path string) (*AnomalyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to parse anomaly record", errors.Join(errors.ErrArtifactCorrupted, err)).WithPath(path)
	}
	rec.File = path
	return rec, nil
}
