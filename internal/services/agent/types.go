// Package agent drives a bounded think/act loop for a single high-level
// request: a pluggable decision function picks the next action, named tools
// execute it, and the loop stops on a terminal action, a step ceiling, or a
// wall-clock budget.
package agent

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoDecision  = errors.New("decision function returned no action")
	ErrNilDecider  = errors.New("decision function is nil")
	ErrRunTimeout  = errors.New("execution timeout")
	ErrUnknownTool = errors.New("unknown tool")
)

// ActionKind is the closed set of actions a decision function may return.
type ActionKind int

const (
	// ActionToolCall invokes a registered tool by name.
	ActionToolCall ActionKind = iota
	// ActionThink records reasoning text with no external effect.
	ActionThink
	// ActionRespond ends the run successfully with Content as the final response.
	ActionRespond
	// ActionComplete is ActionRespond under a different intent: the work is done.
	ActionComplete
	// ActionWait pauses the run for external input; resumption is a new run.
	ActionWait
)

func (k ActionKind) String() string {
	switch k {
	case ActionToolCall:
		return "tool_call"
	case ActionThink:
		return "think"
	case ActionRespond:
		return "respond"
	case ActionComplete:
		return "complete"
	case ActionWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Action is one decision produced by the decision function.
type Action struct {
	Kind    ActionKind
	Content string

	// Tool name and arguments, for ActionToolCall only.
	Tool string
	Args map[string]any
}

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Decide picks the next action given the transcript so far. Returning
// (nil, nil) or an error aborts the run with an error state. Typically backed
// by a language-model call; opaque to this package.
type Decide func(ctx context.Context, transcript []Message) (*Action, error)

// State is the loop's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateThinking  State = "thinking"
	StateExecuting State = "executing"
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Step records one iteration of a run. Numbers are contiguous from 1 within
// a single run.
type Step struct {
	Number  int           `json:"number"`
	Action  Action        `json:"action"`
	Result  string        `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// RunContext is the full record of one run. It is owned by the caller once
// Run returns; the service keeps no reference to it.
type RunContext struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Prompt string `json:"prompt"`

	State          State  `json:"state"`
	Steps          []Step `json:"steps"`
	FinalResponse  string `json:"final_response,omitempty"`
	Error          string `json:"error,omitempty"`
	StepsExhausted bool   `json:"steps_exhausted,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Transcript []Message `json:"-"`
}

// Config controls run defaults; non-zero RunOptions fields override them
// per run.
type Config struct {
	MaxSteps        int           // default 10
	Timeout         time.Duration // default 2m
	SystemDirective string
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.SystemDirective == "" {
		c.SystemDirective = "You are an autonomous assistant. Decide one action at a time; respond when the task is done."
	}
	return c
}

// RunOptions overrides the configured budgets for a single run. Zero fields
// keep the service defaults.
type RunOptions struct {
	MaxSteps int
	Timeout  time.Duration
}

// Bus event types for run lifecycle.
const (
	EventStep = "agent.step"
	EventRun  = "agent.run"
)

// RunEvent is the bus payload for EventRun.
type RunEvent struct {
	ID            string `json:"id"`
	Owner         string `json:"owner"`
	State         State  `json:"state"`
	Steps         int    `json:"steps"`
	FinalResponse string `json:"final_response,omitempty"`
	Error         string `json:"error,omitempty"`
}

// StepEvent is the bus payload for EventStep.
type StepEvent struct {
	RunID string `json:"run_id"`
	Step  Step   `json:"step"`
}
