package guardian

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/storyloop/internal/errors"
)

func testInput() Input {
	return Input{
		Output: "line one\n```go\nfmt.Println(\"hi\")\n```\nline two",
		Epic:   2,
		Story:  "2.3",
		Phase:  "REVIEW",
		Tool:   "codex",
		Model:  "gpt-5",
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "anomalies"), nil)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return s
}

func TestStore_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	v := Verdict{Type: TypeRepetition, Confidence: 0.7, Rationale: "segment repeated 4 times"}

	rec, err := s.Create(testInput(), v)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Create() did not assign an id")
	}
	wantName := "20260304T050607Z-epic2-story2.3-repetition.md"
	if filepath.Base(rec.File) != wantName {
		t.Errorf("file = %s, want %s", filepath.Base(rec.File), wantName)
	}

	got, err := s.Find(rec.ID[:8])
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got.ID != rec.ID || got.Story != "2.3" || got.Phase != "REVIEW" || got.Tool != "codex" {
		t.Errorf("Find() = %+v", got)
	}
	if got.Output != testInput().Output {
		t.Errorf("Output = %q, want %q", got.Output, testInput().Output)
	}
	if got.Type != TypeRepetition || got.Confidence != 0.7 {
		t.Errorf("classification = %s/%v", got.Type, got.Confidence)
	}

	data, _ := os.ReadFile(rec.File)
	if !strings.Contains(string(data), "# Anomaly: repetition") {
		t.Errorf("record body is not human readable:\n%s", data)
	}
}

func TestStore_FileNameCollision(t *testing.T) {
	s := newTestStore(t)
	v := Verdict{Type: TypeEmptyOutput, Confidence: 0.8}

	a, err := s.Create(testInput(), v)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := s.Create(testInput(), v)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.File == b.File {
		t.Fatalf("two records share %s", a.File)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d records, want 2", len(all))
	}
}

func TestStore_Retrospective(t *testing.T) {
	s := newTestStore(t)
	in := Input{Output: "", Epic: 3, Phase: "RETROSPECTIVE"}
	rec, err := s.Create(in, Verdict{Type: TypeEmptyOutput, Confidence: 0.8})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if filepath.Base(rec.File) != "20260304T050607Z-epic3-empty_output.md" {
		t.Errorf("file = %s", filepath.Base(rec.File))
	}
	if rec.Location() != "epic 3 RETROSPECTIVE" {
		t.Errorf("Location() = %q", rec.Location())
	}
}

func TestStore_ResolveOnce(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(testInput(), Verdict{Type: TypeRepetition, Confidence: 0.7})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res := Resolution{Action: ActionRetry, Instruction: "focus on the receipt totals", Outcome: "phase re-entered"}
	resolved, err := s.Resolve(rec.ID, res)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolved.Resolved() || resolved.Resolution.At.IsZero() {
		t.Errorf("Resolve() = %+v", resolved.Resolution)
	}

	_, err = s.Resolve(rec.ID, Resolution{Action: ActionSkip})
	if !errors.Is(err, errors.ErrAlreadyResolved) {
		t.Fatalf("second Resolve() error = %v, want ErrAlreadyResolved", err)
	}

	reloaded, err := s.Find(rec.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if reloaded.Resolution.Action != ActionRetry || reloaded.Resolution.Instruction != "focus on the receipt totals" {
		t.Errorf("resolution changed after second call: %+v", reloaded.Resolution)
	}
	if reloaded.Output != testInput().Output {
		t.Errorf("output lost on resolve: %q", reloaded.Output)
	}

	unresolved, err := s.Unresolved()
	if err != nil {
		t.Fatalf("Unresolved() error = %v", err)
	}
	if len(unresolved) != 0 {
		t.Errorf("Unresolved() = %d records, want 0", len(unresolved))
	}
}

func TestStore_FindErrors(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Find("missing"); !errors.Is(err, &errors.NotFoundError{}) {
		t.Errorf("Find(missing) error = %v, want NotFoundError", err)
	}
	if _, err := s.Find(""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Find(\"\") error = %v, want ErrInvalidInput", err)
	}

	for _, id := range []string{"aaaa1111", "aaaa2222"} {
		rec := NewRecord(id, testInput(), Verdict{Type: TypeOffTopic}, time.Now())
		rec.File = filepath.Join(s.Dir(), id+".md")
		if err := s.Save(rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if _, err := s.Find("aaaa"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("ambiguous Find() error = %v, want ErrInvalidInput", err)
	}
}

func TestStore_ListSkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(testInput(), Verdict{Type: TypeRepetition}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "broken.md"), []byte("no frontmatter"), 0644); err != nil {
		t.Fatal(err)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() = %d records, want 1", len(all))
	}
}

func TestStore_ResolutionRequests(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(testInput(), Verdict{Type: TypeRepetition, Confidence: 0.7})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pending, err := s.PendingRequest(rec)
	if err != nil || pending != nil {
		t.Fatalf("PendingRequest() = %v, %v; want nil, nil", pending, err)
	}

	if _, err := s.RequestResolution(rec.ShortID(), Resolution{Action: ActionIgnore, Instruction: "false positive"}); err != nil {
		t.Fatalf("RequestResolution() error = %v", err)
	}
	if RequestPath(rec) != rec.File+".resolution.yaml" {
		t.Errorf("RequestPath() = %s", RequestPath(rec))
	}

	pending, err = s.PendingRequest(rec)
	if err != nil {
		t.Fatalf("PendingRequest() error = %v", err)
	}
	if pending == nil || pending.Action != ActionIgnore || pending.Instruction != "false positive" {
		t.Fatalf("PendingRequest() = %+v", pending)
	}

	// Requests are not records.
	all, _ := s.List()
	if len(all) != 1 {
		t.Errorf("List() = %d records, want 1", len(all))
	}

	if err := s.ClearRequest(rec); err != nil {
		t.Fatalf("ClearRequest() error = %v", err)
	}
	if pending, _ := s.PendingRequest(rec); pending != nil {
		t.Error("request still pending after ClearRequest()")
	}

	if _, err := s.Resolve(rec.ID, Resolution{Action: ActionIgnore}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := s.RequestResolution(rec.ID, Resolution{Action: ActionSkip}); !errors.Is(err, errors.ErrAlreadyResolved) {
		t.Errorf("RequestResolution() on resolved record error = %v", err)
	}
}

func TestStore_InvalidRequest(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(testInput(), Verdict{Type: TypeRepetition})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := os.WriteFile(RequestPath(rec), []byte("action: explode\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PendingRequest(rec); err == nil {
		t.Error("PendingRequest() should reject an unknown action")
	}
}

func TestStore_WaitForResolution(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(testInput(), Verdict{Type: TypeRepetition})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		time.Sleep(200 * time.Millisecond)
		if _, err := s.RequestResolution(rec.ID, Resolution{Action: ActionSkip, Instruction: "out of scope"}); err != nil {
			t.Errorf("RequestResolution() error = %v", err)
		}
	}()

	res, err := s.WaitForResolution(ctx, rec)
	if err != nil {
		t.Fatalf("WaitForResolution() error = %v", err)
	}
	if res.Action != ActionSkip || res.Instruction != "out of scope" {
		t.Errorf("WaitForResolution() = %+v", res)
	}
}

func TestStore_WaitForResolution_AlreadyPending(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(testInput(), Verdict{Type: TypeRepetition})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.RequestResolution(rec.ID, Resolution{Action: ActionRetry}); err != nil {
		t.Fatalf("RequestResolution() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := s.WaitForResolution(ctx, rec)
	if err != nil || res.Action != ActionRetry {
		t.Fatalf("WaitForResolution() = %+v, %v", res, err)
	}
}

func TestStore_WaitForResolution_Canceled(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(testInput(), Verdict{Type: TypeRepetition})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := s.WaitForResolution(ctx, rec); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForResolution() error = %v, want deadline exceeded", err)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"retry", ActionRetry, false},
		{" Ignore ", ActionIgnore, false},
		{"skip", ActionSkip, false},
		{"retry-phase", ActionRetry, false},
		{"ignore-output", ActionIgnore, false},
		{"abort", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAction() = %q, want %q", got, tt.want)
			}
		})
	}
}
