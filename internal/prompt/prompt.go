// Package prompt builds the prompts handed to tools in each workflow phase.
// It keeps prompt wording out of the loop: the loop fills a Context and a
// Builder turns it into text.
package prompt

import (
	"errors"

	"github.com/Iron-Ham/storyloop/internal/state"
)

// Sentinel errors for prompt building.
var (
	ErrNilContext    = errors.New("prompt context is nil")
	ErrInvalidPhase  = errors.New("invalid phase for prompt")
	ErrMissingStory  = errors.New("phase requires a story")
	ErrMissingReport = errors.New("synthesis requires at least one report")
)

// Builder turns a Context into a prompt.
type Builder interface {
	Build(ctx *Context) (string, error)
}

// Context is everything a phase prompt may refer to. Not every phase uses
// every field.
type Context struct {
	Phase state.Phase

	// Project
	Project      string
	Language     string
	Root         string
	SprintStatus string

	// Position
	Epic        int
	Story       string
	StoryKey    string
	StoryStatus string
	// EpicStories lists the story ids of the epic in order.
	EpicStories []string
	// Completed lists the finished story ids of the epic.
	Completed []string

	// ResumeNote is the instruction attached to a retry resolution.
	ResumeNote string

	// Reports and Failures feed the synthesis phases.
	Reports  []Report
	Failures []string
}

// Report is one validator report as shown to the synthesizing actor.
type Report struct {
	Label       string
	File        string
	Output      string
	WriteIntent bool
}

func (c *Context) validate() error {
	if c == nil {
		return ErrNilContext
	}
	if !c.Phase.Valid() {
		return ErrInvalidPhase
	}
	if c.Phase != state.PhaseRetrospective && c.Story == "" {
		return ErrMissingStory
	}
	if c.Phase.IsSynthesis() && len(c.Reports) == 0 {
		return ErrMissingReport
	}
	return nil
}
