// Package sprint reads and updates the external sprint-status document: the
// BMAD-style YAML file whose development_status map records the status of
// every epic, story and retrospective.
//
// The document is the human-facing view of progress. storyloop reads it for
// the ordered story catalog and writes to it only to bring statuses in line
// with the loop's own state.
package sprint

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Story statuses.
const (
	StatusBacklog     = "backlog"
	StatusDrafted     = "drafted" // Older name for ready-for-dev
	StatusReadyForDev = "ready-for-dev"
	StatusInProgress  = "in-progress"
	StatusReview      = "review"
	StatusDone        = "done"
)

// Epic and retrospective statuses.
const (
	StatusContexted = "contexted" // Older name for an in-progress epic
	StatusOptional  = "optional"
	StatusCompleted = "completed"
)

var (
	epicKey  = regexp.MustCompile(`^epic-(\d+)$`)
	retroKey = regexp.MustCompile(`^epic-(\d+)-retrospective$`)
	storyKey = regexp.MustCompile(`^(\d+)-(\d+)(?:-[A-Za-z0-9].*)?$`)
)

// Entry is one key of development_status.
type Entry struct {
	Key    string
	Status string
	Line   int
}

// Story is a story entry, identified as "<epic>.<story>".
type Story struct {
	Entry
	ID     string
	Epic   int
	Number int
}

// Epic groups the stories of one epic in workflow order.
type Epic struct {
	Entry
	Number        int
	Stories       []Story
	Retrospective *Entry
}

// ProjectState is the parsed document: the ordered catalog of epics and
// stories and their recorded statuses.
type ProjectState struct {
	// Source is the document path, used in discrepancy locations.
	Source string
	Epics  []Epic
}

// Reader provides the external project state.
type Reader interface {
	Read(ctx context.Context) (ProjectState, error)
}

// Change sets Key to Status. When Key is absent it is inserted after the key
// After, or at the end of development_status when After is empty or absent.
type Change struct {
	Key    string
	Status string
	After  string
}

// Updater applies changes to the external document.
type Updater interface {
	Apply(ctx context.Context, c Change) error
}

// Document is a sprint-status source that can be read and updated.
type Document interface {
	Reader
	Updater
}

// StoryID formats the id of story n of epic e.
func StoryID(epic, n int) string {
	return fmt.Sprintf("%d.%d", epic, n)
}

// ParseStoryID splits "2.3" into 2 and 3.
func ParseStoryID(id string) (int, int, error) {
	e, s, ok := strings.Cut(id, ".")
	if !ok {
		return 0, 0, fmt.Errorf("story id %q is not <epic>.<story>", id)
	}
	epic, err1 := strconv.Atoi(e)
	story, err2 := strconv.Atoi(s)
	if err1 != nil || err2 != nil || epic <= 0 || story <= 0 {
		return 0, 0, fmt.Errorf("story id %q is not <epic>.<story>", id)
	}
	return epic, story, nil
}

// StoryKey is the key used when a story has to be added to the document.
func StoryKey(id string) string { return strings.ReplaceAll(id, ".", "-") }

// build groups entries, in document order, into the epic catalog.
func build(source string, entries []Entry) ProjectState {
	epics := make(map[int]*Epic)
	get := func(n int) *Epic {
		if e, ok := epics[n]; ok {
			return e
		}
		e := &Epic{Number: n}
		epics[n] = e
		return e
	}

	for _, en := range entries {
		switch {
		case retroKey.MatchString(en.Key):
			n, _ := strconv.Atoi(retroKey.FindStringSubmatch(en.Key)[1])
			r := en
			get(n).Retrospective = &r
		case epicKey.MatchString(en.Key):
			n, _ := strconv.Atoi(epicKey.FindStringSubmatch(en.Key)[1])
			get(n).Entry = en
		case storyKey.MatchString(en.Key):
			m := storyKey.FindStringSubmatch(en.Key)
			e, _ := strconv.Atoi(m[1])
			s, _ := strconv.Atoi(m[2])
			if e == 0 || s == 0 {
				continue
			}
			ep := get(e)
			if slices.ContainsFunc(ep.Stories, func(st Story) bool { return st.Number == s }) {
				continue
			}
			ep.Stories = append(ep.Stories, Story{Entry: en, ID: StoryID(e, s), Epic: e, Number: s})
		}
	}

	ps := ProjectState{Source: source}
	for _, e := range epics {
		slices.SortStableFunc(e.Stories, func(a, b Story) int { return cmp.Compare(a.Number, b.Number) })
		ps.Epics = append(ps.Epics, *e)
	}
	slices.SortFunc(ps.Epics, func(a, b Epic) int { return cmp.Compare(a.Number, b.Number) })
	return ps
}

// Epic returns epic n.
func (p ProjectState) Epic(n int) (Epic, bool) {
	for _, e := range p.Epics {
		if e.Number == n {
			return e, true
		}
	}
	return Epic{}, false
}

// Story returns the story with the given id.
func (p ProjectState) Story(id string) (Story, bool) {
	for _, e := range p.Epics {
		for _, s := range e.Stories {
			if s.ID == id {
				return s, true
			}
		}
	}
	return Story{}, false
}

// Stories returns every story in workflow order.
func (p ProjectState) Stories() []Story {
	var out []Story
	for _, e := range p.Epics {
		out = append(out, e.Stories...)
	}
	return out
}

// NextStory returns the first story of epic numbered above after that keep
// accepts. A nil keep accepts every story.
func (p ProjectState) NextStory(epic, after int, keep func(Story) bool) (Story, bool) {
	e, ok := p.Epic(epic)
	if !ok {
		return Story{}, false
	}
	for _, s := range e.Stories {
		if s.Number > after && (keep == nil || keep(s)) {
			return s, true
		}
	}
	return Story{}, false
}

// FirstStoryAfter returns the first story keep accepts in the epics numbered
// above epic, in workflow order. A nil keep accepts every story.
func (p ProjectState) FirstStoryAfter(epic int, keep func(Story) bool) (Story, bool) {
	for _, e := range p.Epics {
		if e.Number <= epic {
			continue
		}
		for _, s := range e.Stories {
			if keep == nil || keep(s) {
				return s, true
			}
		}
	}
	return Story{}, false
}

// Location renders "<source>:<line> (<key>)" for an entry.
func (p ProjectState) Location(e Entry) string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d (%s)", p.Source, e.Line, e.Key)
	}
	return fmt.Sprintf("%s (%s)", p.Source, e.Key)
}
