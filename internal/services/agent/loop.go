package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/internal/eventbus"
	"conductor/internal/telemetry"
	logx "conductor/pkg/logx"
)

// Service runs bounded think/act loops. It carries the shared tool registry,
// the decision function, and the run defaults; each Run is independent and
// may execute concurrently with others.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	reg    *Registry
	decide Decide
	obs    observerSet
}

func New(cfg Config, decide Decide, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		reg:    NewRegistry(),
		decide: decide,
	}
}

// Tools exposes the shared registry so callers can register capabilities
// before (or between) runs.
func (s *Service) Tools() *Registry { return s.reg }

// RegisterTool adds or replaces a tool on the shared registry.
func (s *Service) RegisterTool(name string, t Tool) error { return s.reg.Register(name, t) }

// UnregisterTool removes a tool from the shared registry.
func (s *Service) UnregisterTool(name string) { s.reg.Unregister(name) }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run executes one bounded loop for prompt on behalf of owner. It returns the
// full run record; the error return covers setup problems only, everything
// that happens inside the loop is reported through RunContext.State.
func (s *Service) Run(ctx context.Context, owner, prompt string, opt RunOptions) (*RunContext, error) {
	if s.decide == nil {
		return nil, ErrNilDecider
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := s.config()
	if opt.MaxSteps > 0 {
		cfg.MaxSteps = opt.MaxSteps
	}
	if opt.Timeout > 0 {
		cfg.Timeout = opt.Timeout
	}

	rc := &RunContext{
		ID:        uuid.NewString(),
		Owner:     owner,
		Prompt:    prompt,
		State:     StateIdle,
		StartedAt: time.Now(),
		Transcript: []Message{
			{Role: "system", Content: cfg.SystemDirective},
			{Role: "user", Content: prompt},
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	s.log.Debug("agent run started",
		logx.String("run_id", rc.ID), logx.String("owner", owner),
		logx.Int("max_steps", cfg.MaxSteps), logx.Duration("timeout", cfg.Timeout))

	terminal := false
	for n := 1; n <= cfg.MaxSteps && !terminal; n++ {
		if runCtx.Err() != nil {
			rc.State = StateError
			rc.Error = ErrRunTimeout.Error()
			terminal = true
			break
		}

		rc.State = StateThinking
		action, err := s.decide(runCtx, rc.Transcript)
		if err != nil {
			rc.State = StateError
			rc.Error = err.Error()
			terminal = true
			break
		}
		if action == nil {
			rc.State = StateError
			rc.Error = ErrNoDecision.Error()
			terminal = true
			break
		}

		step := s.execStep(runCtx, rc, n, *action)
		rc.Steps = append(rc.Steps, step)
		telemetry.AgentSteps.Inc()
		s.notifyStep(rc.ID, step)
		s.publish(EventStep, StepEvent{RunID: rc.ID, Step: step})
		rc.Transcript = append(rc.Transcript, Message{Role: "assistant", Content: transcriptLine(step)})

		switch action.Kind {
		case ActionRespond, ActionComplete:
			rc.FinalResponse = action.Content
			rc.State = StateCompleted
			terminal = true
		case ActionWait:
			rc.State = StateWaiting
			terminal = true
		}
	}

	// Ran out of steps with work still pending. The state stays wherever the
	// loop left it so callers can tell exhaustion apart from failure.
	if !terminal {
		rc.StepsExhausted = true
	}

	rc.FinishedAt = time.Now()
	telemetry.AgentRuns.Inc()
	s.notifyComplete(rc)
	s.publish(EventRun, RunEvent{
		ID: rc.ID, Owner: rc.Owner, State: rc.State,
		Steps: len(rc.Steps), FinalResponse: rc.FinalResponse, Error: rc.Error,
	})

	if rc.State == StateError {
		s.log.Warn("agent run failed",
			logx.String("run_id", rc.ID), logx.String("owner", owner),
			logx.Int("steps", len(rc.Steps)), logx.String("error", rc.Error),
			logx.Duration("dur", rc.FinishedAt.Sub(rc.StartedAt)))
	} else {
		s.log.Debug("agent run finished",
			logx.String("run_id", rc.ID), logx.String("owner", owner),
			logx.String("state", string(rc.State)), logx.Int("steps", len(rc.Steps)),
			logx.Bool("steps_exhausted", rc.StepsExhausted),
			logx.Duration("dur", rc.FinishedAt.Sub(rc.StartedAt)))
	}
	return rc, nil
}

// execStep performs one action and records the outcome. Tool failures land in
// the step record as observations; they never abort the run.
func (s *Service) execStep(ctx context.Context, rc *RunContext, n int, action Action) Step {
	start := time.Now()
	step := Step{Number: n, Action: action}

	switch action.Kind {
	case ActionToolCall:
		rc.State = StateExecuting
		s.notifyToolCall(rc.ID, action.Tool, action.Args)
		tool, ok := s.reg.lookup(action.Tool)
		if !ok {
			step.Error = fmt.Sprintf("%s: %q", ErrUnknownTool, action.Tool)
			break
		}
		out, err := s.invokeTool(ctx, action.Tool, tool, action.Args)
		if err != nil {
			step.Error = err.Error()
		} else {
			step.Result = fmt.Sprintf("%v", out)
		}
	case ActionThink:
		step.Result = action.Content
	case ActionRespond, ActionComplete:
		step.Result = action.Content
	case ActionWait:
		step.Result = action.Content
	default:
		step.Error = fmt.Sprintf("unsupported action kind %d", action.Kind)
	}

	step.Elapsed = time.Since(start)
	return step
}

// invokeTool shields the loop from panicking tools.
func (s *Service) invokeTool(ctx context.Context, name string, tool Tool, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("tool panicked: %v", r)
			s.log.Error("panic in agent tool",
				logx.String("tool", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return tool(ctx, args)
}

// transcriptLine renders a step for the transcript so the decision function
// sees what happened, including tool failures.
func transcriptLine(step Step) string {
	switch {
	case step.Error != "":
		return fmt.Sprintf("[%s] error: %s", step.Action.Kind, step.Error)
	case step.Action.Kind == ActionToolCall:
		return fmt.Sprintf("[tool_call %s] %s", step.Action.Tool, step.Result)
	default:
		return fmt.Sprintf("[%s] %s", step.Action.Kind, step.Result)
	}
}

func (s *Service) publish(event string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: event, Data: data})
}
