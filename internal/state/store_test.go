package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	slerrors "github.com/Iron-Ham/storyloop/internal/errors"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".storyloop", "state.yaml")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, path
}

func reviewState() LoopState {
	return LoopState{
		Epic:             2,
		Story:            "2.3",
		Phase:            PhaseReview,
		CompletedStories: []string{"1.1", "1.2", "2.1", "2.2"},
	}
}

func assertSamePosition(t *testing.T, got, want LoopState) {
	t.Helper()
	if got.Epic != want.Epic || got.Story != want.Story || got.Phase != want.Phase || got.Done != want.Done {
		t.Errorf("position = %v, want %v", got.Position(), want.Position())
	}
	if !slices.Equal(got.CompletedStories, want.CompletedStories) {
		t.Errorf("CompletedStories = %v, want %v", got.CompletedStories, want.CompletedStories)
	}
}

func TestStore_LoadMissingReturnsFresh(t *testing.T) {
	s, _ := openStore(t)

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !st.IsFresh() || st.Phase != PhaseCreate {
		t.Errorf("Load() = %+v, want fresh state", st)
	}
	if st.CompletedStories == nil {
		t.Error("fresh CompletedStories should be empty, not nil")
	}
}

func TestStore_SaveThenLoadAfterRestart(t *testing.T) {
	s, path := openStore(t)

	st := reviewState()
	if err := s.Save(&st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("Save should stamp UpdatedAt")
	}

	// A new process opens the same file.
	restarted, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	loaded, err := restarted.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertSamePosition(t, loaded, st)
	if !loaded.UpdatedAt.Equal(st.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", loaded.UpdatedAt, st.UpdatedAt)
	}
	if loaded.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", loaded.Version, CurrentVersion)
	}
}

func TestStore_PauseRoundTrip(t *testing.T) {
	s, _ := openStore(t)

	st := reviewState()
	st.PendingReports = []string{"/r/a.md", "/r/b.md"}
	st.Pause = &PauseInfo{
		AnomalyID:   "8a7f",
		AnomalyFile: "/a/8a7f.md",
		AnomalyType: "repetition",
		Next:        Position{Epic: 2, Story: "2.3", Phase: PhaseSynthesizeReview},
		At:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := s.Save(&st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.Paused() || loaded.Pause.Next.Phase != PhaseSynthesizeReview {
		t.Errorf("Pause = %+v, want the saved pause", loaded.Pause)
	}
	if len(loaded.PendingReports) != 2 {
		t.Errorf("PendingReports = %v, want 2 entries", loaded.PendingReports)
	}
}

func TestStore_LoadCorrupted(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"not yaml", "{{{{ not yaml"},
		{"unknown phase", "current_epic: 1\ncurrent_story: \"1.1\"\ncurrent_phase: DEPLOY\n"},
		{"missing story", "current_epic: 1\ncurrent_phase: DEVELOP\n"},
		{"unknown field", "current_epic: 1\ncurrent_story: \"1.1\"\ncurrent_phase: DEVELOP\nbogus: true\n"},
		{"duplicate completed", "current_epic: 1\ncurrent_story: \"1.3\"\ncurrent_phase: DEVELOP\ncompleted_stories: [\"1.1\", \"1.1\"]\n"},
		{"malformed story", "current_epic: 1\ncurrent_story: \"1-1\"\ncurrent_phase: DEVELOP\n"},
		{"zero story number", "current_epic: 1\ncurrent_story: \"1.0\"\ncurrent_phase: DEVELOP\n"},
		{"story outside epic", "current_epic: 2\ncurrent_story: \"1.3\"\ncurrent_phase: DEVELOP\n"},
		{"malformed completed", "current_epic: 1\ncurrent_story: \"1.3\"\ncurrent_phase: DEVELOP\ncompleted_stories: [\"1.1\", \"login\"]\n"},
		{"future version", "version: 99\ncurrent_epic: 1\ncurrent_story: \"1.1\"\ncurrent_phase: DEVELOP\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, path := openStore(t)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			_, err := s.Load()
			if err == nil {
				t.Fatal("expected error for corrupted state")
			}
			if !errors.Is(err, slerrors.ErrStateCorrupted) {
				t.Errorf("error should wrap ErrStateCorrupted: %v", err)
			}
			var perr *slerrors.PersistenceError
			if !errors.As(err, &perr) || perr.Path != path {
				t.Errorf("expected PersistenceError with path, got %v", err)
			}
			if !slerrors.IsFatal(err) {
				t.Error("corrupted state must be fatal")
			}
		})
	}
}

func TestStore_RejectsShrinkingCompletedStories(t *testing.T) {
	s, _ := openStore(t)

	st := reviewState()
	if err := s.Save(&st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	regressed := st.Clone()
	regressed.CompletedStories = regressed.CompletedStories[:2]
	err := s.Save(&regressed)
	if !errors.Is(err, slerrors.ErrStateRegression) {
		t.Fatalf("Save() = %v, want ErrStateRegression", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSamePosition(t, loaded, st)
}

func TestStore_RegressionCheckedAgainstDiskWithoutLoad(t *testing.T) {
	s, path := openStore(t)
	st := reviewState()
	if err := s.Save(&st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	other, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fresh := Fresh()
	if err := other.Save(&fresh); !errors.Is(err, slerrors.ErrStateRegression) {
		t.Errorf("Save() = %v, want ErrStateRegression", err)
	}
}

func TestStore_Reset(t *testing.T) {
	s, _ := openStore(t)
	st := reviewState()
	if err := s.Save(&st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh, err := s.Reset()
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !fresh.IsFresh() {
		t.Errorf("Reset() = %+v, want fresh", fresh)
	}
	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.CompletedStories) != 0 {
		t.Errorf("CompletedStories = %v, want empty after reset", loaded.CompletedStories)
	}
}

func TestOpen_RemovesStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	stray := filepath.Join(dir, ".state-12345.tmp")
	if err := os.WriteFile(stray, []byte("current_epic: 2\ncurrent_st"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Open(filepath.Join(dir, "state.yaml"), nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray temp file should be removed on Open")
	}
}

// crashingWriter leaves a temp file holding the first cut bytes of data and
// then fails, as if the process died mid-write.
func crashingWriter(cut int) writeFunc {
	return func(path string, data []byte, perm os.FileMode, prefix string) error {
		if cut > len(data) {
			cut = len(data)
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), prefix+"*.tmp")
		if err != nil {
			return err
		}
		_, _ = tmp.Write(data[:cut])
		_ = tmp.Close()
		return fmt.Errorf("simulated crash after %d bytes", cut)
	}
}

func TestStore_CrashDuringSaveKeepsPriorOrNewState(t *testing.T) {
	prior := reviewState()
	next := prior.Clone()
	next.Phase = PhaseSynthesizeReview
	next.PendingReports = []string{"/r/codex.md", "/r/gemini.md"}

	// Reference encoding size bounds the cut points.
	s0, _ := openStore(t)
	candidate := next.Clone()
	if err := s0.Save(&candidate); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(s0.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	for cut := 0; cut <= len(data); cut += 7 {
		t.Run(fmt.Sprintf("cut=%d", cut), func(t *testing.T) {
			s, path := openStore(t)
			st := prior.Clone()
			if err := s.Save(&st); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			s.write = crashingWriter(cut)
			attempt := next.Clone()
			if err := s.Save(&attempt); err == nil {
				t.Fatal("expected simulated crash error")
			}

			restarted, err := Open(path, nil)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			loaded, err := restarted.Load()
			if err != nil {
				t.Fatalf("Load after crash failed: %v", err)
			}
			assertSamePosition(t, loaded, prior)
		})
	}

	t.Run("crash after rename", func(t *testing.T) {
		s, path := openStore(t)
		st := prior.Clone()
		if err := s.Save(&st); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		attempt := next.Clone()
		if err := s.Save(&attempt); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		// Process dies here; nothing else touches the file.
		restarted, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		loaded, err := restarted.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		assertSamePosition(t, loaded, next)
	})
}

func TestStore_ResumeAtDevelop(t *testing.T) {
	s, path := openStore(t)
	st := LoopState{Epic: 3, Story: "3.1", Phase: PhaseDevelop, CompletedStories: []string{"1.1", "2.1"}}
	if err := s.Save(&st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restarted, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	loaded, err := restarted.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Story != "3.1" || loaded.Phase != PhaseDevelop {
		t.Errorf("resumed at %v, want story 3.1 DEVELOP", loaded.Position())
	}
}
