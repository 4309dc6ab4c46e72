package loop

import (
	"fmt"

	"github.com/Iron-Ham/storyloop/internal/sprint"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// Next returns the position after the current phase of st. It is a pure
// function of st and the story catalog.
//
// In-story phases advance in order. After SYNTHESIZE_REVIEW the next
// unfinished story of the epic starts at CREATE, or the epic's
// RETROSPECTIVE follows when there is none. After RETROSPECTIVE the first
// unfinished story of the next epic starts; after the last epic the loop is
// done. A fresh state resolves to the first story of the catalog.
func Next(st state.LoopState, catalog sprint.ProjectState) (state.Position, error) {
	if st.Done {
		return st.Position(), nil
	}
	if st.IsFresh() {
		return firstFrom(st, catalog, 0), nil
	}

	switch st.Phase {
	case state.PhaseCreate, state.PhaseValidateCreate, state.PhaseSynthesizeCreate,
		state.PhaseDevelop, state.PhaseReview:
		return state.Position{Epic: st.Epic, Story: st.Story, Phase: state.Phases()[st.Phase.Index()+1]}, nil

	case state.PhaseSynthesizeReview:
		// A current story missing from the catalog orders before every story.
		after := 0
		if _, n, err := sprint.ParseStoryID(st.Story); err == nil {
			after = n
		}
		next, ok := catalog.NextStory(st.Epic, after, func(s sprint.Story) bool {
			return s.ID != st.Story && !st.IsCompleted(s.ID)
		})
		if ok {
			return state.Position{Epic: st.Epic, Story: next.ID, Phase: state.PhaseCreate}, nil
		}
		return state.Position{Epic: st.Epic, Phase: state.PhaseRetrospective}, nil

	case state.PhaseRetrospective:
		return firstFrom(st, catalog, st.Epic), nil
	}
	return state.Position{}, fmt.Errorf("no transition from phase %q", st.Phase)
}

// firstFrom returns CREATE of the first unfinished story in an epic after
// epic, or the done position.
func firstFrom(st state.LoopState, catalog sprint.ProjectState, epic int) state.Position {
	s, ok := catalog.FirstStoryAfter(epic, func(s sprint.Story) bool { return !st.IsCompleted(s.ID) })
	if ok {
		return state.Position{Epic: s.Epic, Story: s.ID, Phase: state.PhaseCreate}
	}
	return state.Position{Epic: max(epic, st.Epic), Phase: state.PhaseRetrospective, Done: true}
}
