package agent

import (
	"runtime/debug"

	logx "conductor/pkg/logx"
)

// Handler funcs registered through OnStep, OnToolCall and OnComplete. Each
// hook accepts any number of handlers; they run synchronously in registration
// order, so keep them fast. A panicking handler is logged and never affects
// the run or the handlers after it.
type (
	StepHandler     func(runID string, step Step)
	ToolCallHandler func(runID, tool string, args map[string]any)
	CompleteHandler func(rc *RunContext)
)

// observerSet holds the registered handlers per hook.
type observerSet struct {
	step     []StepHandler
	toolCall []ToolCallHandler
	complete []CompleteHandler
}

// OnStep registers fn to run after every recorded step.
func (s *Service) OnStep(fn StepHandler) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.obs.step = append(s.obs.step, fn)
	s.mu.Unlock()
}

// OnToolCall registers fn to run before each tool invocation.
func (s *Service) OnToolCall(fn ToolCallHandler) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.obs.toolCall = append(s.obs.toolCall, fn)
	s.mu.Unlock()
}

// OnComplete registers fn to run once per finished run.
func (s *Service) OnComplete(fn CompleteHandler) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.obs.complete = append(s.obs.complete, fn)
	s.mu.Unlock()
}

func (s *Service) observers() observerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs
}

func (s *Service) notifyStep(runID string, step Step) {
	for _, fn := range s.observers().step {
		s.callObserver("on_step", func() { fn(runID, step) })
	}
}

func (s *Service) notifyToolCall(runID, tool string, args map[string]any) {
	for _, fn := range s.observers().toolCall {
		s.callObserver("on_tool_call", func() { fn(runID, tool, args) })
	}
}

func (s *Service) notifyComplete(rc *RunContext) {
	for _, fn := range s.observers().complete {
		s.callObserver("on_complete", func() { fn(rc) })
	}
}

func (s *Service) callObserver(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in agent observer",
				logx.String("hook", hook), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}
