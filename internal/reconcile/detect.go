// Package reconcile keeps the external sprint-status document in line with
// the loop's own state. The loop state is authoritative: discrepancies are
// always corrected on the external side and never flow back.
package reconcile

import (
	"fmt"
	"slices"

	"github.com/Iron-Ham/storyloop/internal/sprint"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// Type classifies a discrepancy.
type Type string

const (
	TypeStoryStatus  Type = "story_status"
	TypeStoryMissing Type = "story_missing"
	TypeEpicStatus   Type = "epic_status"
)

// Discrepancy is one difference between the loop state and the document.
type Discrepancy struct {
	Type Type
	// Subject is the story id ("2.3") or the epic key ("epic-2").
	Subject string
	// Key is the document key the correction writes.
	Key      string
	Expected string
	Actual   string
	// Accepted lists every status that satisfies the loop state. Expected is
	// always first.
	Accepted []string
	// Location is where the document records the subject, "<file>:<line> (<key>)".
	Location string
	// After is the key a missing entry is inserted after.
	After string
}

func (d Discrepancy) String() string {
	actual := d.Actual
	if actual == "" {
		actual = "missing"
	}
	return fmt.Sprintf("%s %s: expected %s, found %s at %s", d.Type, d.Subject, d.Expected, actual, d.Location)
}

// satisfied reports whether status is acceptable for d.
func (d Discrepancy) satisfied(status string) bool {
	return slices.Contains(d.Accepted, status)
}

// storyStatusFor returns the acceptable statuses of the story the loop is
// working on, canonical status first.
func storyStatusFor(phase state.Phase) []string {
	switch phase {
	case state.PhaseCreate:
		return []string{sprint.StatusBacklog, sprint.StatusReadyForDev, sprint.StatusDrafted}
	case state.PhaseValidateCreate, state.PhaseSynthesizeCreate:
		return []string{sprint.StatusReadyForDev, sprint.StatusDrafted}
	case state.PhaseDevelop:
		return []string{sprint.StatusInProgress}
	case state.PhaseReview, state.PhaseSynthesizeReview:
		return []string{sprint.StatusReview}
	}
	return nil
}

var (
	doneStatuses       = []string{sprint.StatusDone}
	notDoneStatuses    = []string{sprint.StatusBacklog, sprint.StatusReadyForDev, sprint.StatusDrafted, sprint.StatusInProgress, sprint.StatusReview}
	activeEpicStatuses = []string{sprint.StatusInProgress, sprint.StatusContexted}
	laterEpicStatuses  = []string{sprint.StatusBacklog, sprint.StatusInProgress, sprint.StatusContexted}
	retroDoneStatuses  = []string{sprint.StatusDone, sprint.StatusCompleted}
)

// Detect compares st with ext and returns every discrepancy, in document
// order. It has no side effects.
func Detect(st state.LoopState, ext sprint.ProjectState) []Discrepancy {
	if st.IsFresh() {
		return nil
	}
	var out []Discrepancy

	checkStory := func(id string, accepted []string) {
		s, ok := ext.Story(id)
		if !ok {
			out = append(out, Discrepancy{
				Type:     TypeStoryMissing,
				Subject:  id,
				Key:      sprint.StoryKey(id),
				Expected: accepted[0],
				Accepted: accepted,
				Location: fmt.Sprintf("%s (%s)", ext.Source, sprint.StoryKey(id)),
				After:    insertAnchor(ext, id),
			})
			return
		}
		if !slices.Contains(accepted, s.Status) {
			out = append(out, Discrepancy{
				Type:     TypeStoryStatus,
				Subject:  id,
				Key:      s.Key,
				Expected: accepted[0],
				Actual:   s.Status,
				Accepted: accepted,
				Location: ext.Location(s.Entry),
			})
		}
	}

	// Completed stories the document does not list at all are reported first.
	for _, id := range st.CompletedStories {
		if _, ok := ext.Story(id); !ok {
			checkStory(id, doneStatuses)
		}
	}

	current := ""
	if !st.Done && st.Story != "" && !st.IsCompleted(st.Story) {
		current = st.Story
		if _, ok := ext.Story(current); !ok {
			if accepted := storyStatusFor(st.Phase); accepted != nil {
				checkStory(current, accepted)
			}
		}
	}

	for _, e := range ext.Epics {
		epicDone := st.Done || e.Number < st.Epic
		if e.Key != "" {
			switch {
			case epicDone && allCompleted(st, e):
				out = appendEntry(out, ext, TypeEpicStatus, e.Key, e.Entry, doneStatuses)
			case e.Number == st.Epic && !st.Done:
				out = appendEntry(out, ext, TypeEpicStatus, e.Key, e.Entry, activeEpicStatuses)
			case e.Number > st.Epic:
				out = appendEntry(out, ext, TypeEpicStatus, e.Key, e.Entry, laterEpicStatuses)
			}
		}

		for _, s := range e.Stories {
			switch {
			case st.IsCompleted(s.ID):
				checkStory(s.ID, doneStatuses)
			case s.ID == current:
				if accepted := storyStatusFor(st.Phase); accepted != nil {
					checkStory(s.ID, accepted)
				}
			default:
				checkStory(s.ID, notDoneStatuses)
			}
		}

		if e.Retrospective != nil && epicDone && allCompleted(st, e) {
			out = appendEntry(out, ext, TypeEpicStatus, e.Retrospective.Key, *e.Retrospective, retroDoneStatuses)
		}
	}
	return out
}

func appendEntry(out []Discrepancy, ext sprint.ProjectState, t Type, subject string, en sprint.Entry, accepted []string) []Discrepancy {
	if slices.Contains(accepted, en.Status) {
		return out
	}
	return append(out, Discrepancy{
		Type:     t,
		Subject:  subject,
		Key:      en.Key,
		Expected: accepted[0],
		Actual:   en.Status,
		Accepted: accepted,
		Location: ext.Location(en),
	})
}

func allCompleted(st state.LoopState, e sprint.Epic) bool {
	for _, s := range e.Stories {
		if !st.IsCompleted(s.ID) {
			return false
		}
	}
	return true
}

// insertAnchor picks the key a missing story is inserted after: the last
// listed story of its epic before it, else the epic key.
func insertAnchor(ext sprint.ProjectState, id string) string {
	epicNum, storyNum, err := sprint.ParseStoryID(id)
	if err != nil {
		return ""
	}
	e, ok := ext.Epic(epicNum)
	if !ok {
		return ""
	}
	anchor := e.Key
	for _, s := range e.Stories {
		if s.Number < storyNum {
			anchor = s.Key
		}
	}
	return anchor
}
