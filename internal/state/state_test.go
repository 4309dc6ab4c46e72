package state

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestPhaseOrder(t *testing.T) {
	phases := Phases()
	if len(phases) != 7 {
		t.Fatalf("len(Phases()) = %d, want 7", len(phases))
	}
	for i := 1; i < len(phases); i++ {
		if !phases[i-1].Before(phases[i]) {
			t.Errorf("%s should come before %s", phases[i-1], phases[i])
		}
	}
	if Phase("PAUSED").Valid() {
		t.Error("PAUSED is a meta-state, not a stored phase")
	}
}

func TestPhaseKinds(t *testing.T) {
	tests := []struct {
		phase      Phase
		validation bool
		synthesis  bool
		slug       string
	}{
		{PhaseCreate, false, false, "create"},
		{PhaseValidateCreate, true, false, "validate-create"},
		{PhaseSynthesizeCreate, false, true, "synthesize-create"},
		{PhaseDevelop, false, false, "develop"},
		{PhaseReview, true, false, "review"},
		{PhaseSynthesizeReview, false, true, "synthesize-review"},
		{PhaseRetrospective, false, false, "retrospective"},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			if got := tt.phase.IsValidation(); got != tt.validation {
				t.Errorf("IsValidation() = %v, want %v", got, tt.validation)
			}
			if got := tt.phase.IsSynthesis(); got != tt.synthesis {
				t.Errorf("IsSynthesis() = %v, want %v", got, tt.synthesis)
			}
			if got := tt.phase.Slug(); got != tt.slug {
				t.Errorf("Slug() = %q, want %q", got, tt.slug)
			}
		})
	}
}

func TestParsePhase(t *testing.T) {
	if p, err := ParsePhase("REVIEW"); err != nil || p != PhaseReview {
		t.Errorf("ParsePhase(REVIEW) = %q, %v", p, err)
	}
	if _, err := ParsePhase("review"); err == nil {
		t.Error("phase names are case-sensitive")
	}
}

func TestLoopState_MoveTo(t *testing.T) {
	t.Run("leaving synthesize review completes the story once", func(t *testing.T) {
		st := LoopState{Epic: 1, Story: "1.2", Phase: PhaseSynthesizeReview, CompletedStories: []string{"1.1"}, ResumeNote: "x"}
		st.MoveTo(Position{Epic: 1, Phase: PhaseRetrospective})

		if !slices.Equal(st.CompletedStories, []string{"1.1", "1.2"}) {
			t.Errorf("CompletedStories = %v", st.CompletedStories)
		}
		if st.Phase != PhaseRetrospective || st.Story != "" {
			t.Errorf("position = %v", st.Position())
		}
		if st.ResumeNote != "" {
			t.Error("ResumeNote should be cleared on move")
		}
	})

	t.Run("other phases do not complete the story", func(t *testing.T) {
		st := LoopState{Epic: 1, Story: "1.2", Phase: PhaseDevelop, CompletedStories: []string{}}
		st.MoveTo(Position{Epic: 1, Story: "1.2", Phase: PhaseReview})
		if len(st.CompletedStories) != 0 {
			t.Errorf("CompletedStories = %v, want empty", st.CompletedStories)
		}
	})

	t.Run("move clears pause", func(t *testing.T) {
		st := LoopState{Epic: 1, Story: "1.2", Phase: PhaseDevelop, Pause: &PauseInfo{AnomalyID: "a"}}
		st.MoveTo(Position{Epic: 1, Story: "1.2", Phase: PhaseReview})
		if st.Paused() {
			t.Error("MoveTo should clear the pause")
		}
	})
}

func TestLoopState_CloneIsDeep(t *testing.T) {
	st := LoopState{
		Epic:             1,
		Story:            "1.1",
		Phase:            PhaseDevelop,
		CompletedStories: []string{"0.1"},
		Pause:            &PauseInfo{AnomalyID: "a"},
	}
	st.Record(ResultAdvanced, "", time.Now())

	c := st.Clone()
	c.CompletedStories[0] = "changed"
	c.Pause.AnomalyID = "b"
	c.History[0].Detail = "changed"

	if st.CompletedStories[0] != "0.1" || st.Pause.AnomalyID != "a" || st.History[0].Detail != "" {
		t.Error("Clone must not alias the original")
	}
}

func TestPosition_String(t *testing.T) {
	tests := []struct {
		pos  Position
		want string
	}{
		{Position{Epic: 2, Story: "2.3", Phase: PhaseReview}, "story 2.3 REVIEW"},
		{Position{Epic: 2, Phase: PhaseRetrospective}, "epic 2 RETROSPECTIVE"},
		{Position{Done: true}, "done"},
	}
	for _, tt := range tests {
		if got := tt.pos.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLoopState_Check(t *testing.T) {
	tests := []struct {
		name    string
		st      LoopState
		wantErr string
	}{
		{"fresh", Fresh(), ""},
		{"mid story", LoopState{Epic: 2, Story: "2.10", Phase: PhaseReview, CompletedStories: []string{"1.1", "2.9"}}, ""},
		{"retrospective has no story", LoopState{Epic: 2, Phase: PhaseRetrospective}, ""},
		{"story without dot", LoopState{Epic: 2, Story: "23", Phase: PhaseReview}, "not <epic>.<story>"},
		{"story with text", LoopState{Epic: 2, Story: "2.x", Phase: PhaseReview}, "not <epic>.<story>"},
		{"negative story", LoopState{Epic: 2, Story: "2.-1", Phase: PhaseReview}, "not <epic>.<story>"},
		{"story in another epic", LoopState{Epic: 3, Story: "2.1", Phase: PhaseReview}, "not in current_epic 3"},
		{"completed key instead of id", LoopState{Epic: 2, Story: "2.1", Phase: PhaseReview, CompletedStories: []string{"1-1-login"}}, "completed_stories entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.st.Check()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Check() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Check() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
