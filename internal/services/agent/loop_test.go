package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "conductor/pkg/logx"
)

// scriptDecider replays a fixed action sequence, repeating the last action
// when the script runs out.
func scriptDecider(actions ...Action) Decide {
	i := 0
	return func(_ context.Context, _ []Message) (*Action, error) {
		a := actions[i]
		if i < len(actions)-1 {
			i++
		}
		return &a, nil
	}
}

func newTestAgent(t *testing.T, cfg Config, decide Decide) *Service {
	t.Helper()
	return New(cfg, decide, logx.Nop(), nil)
}

func TestRunRespond(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(Action{Kind: ActionRespond, Content: "done"}))

	rc, err := s.Run(context.Background(), "alice", "do the thing", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rc.State)
	assert.Equal(t, "done", rc.FinalResponse)
	require.Len(t, rc.Steps, 1)
	assert.Equal(t, 1, rc.Steps[0].Number)
	assert.False(t, rc.StepsExhausted)
	// Transcript: system directive, prompt, one assistant entry.
	require.Len(t, rc.Transcript, 3)
	assert.Equal(t, "system", rc.Transcript[0].Role)
	assert.Equal(t, "user", rc.Transcript[1].Role)
	assert.Equal(t, "do the thing", rc.Transcript[1].Content)
}

func TestRunToolCall(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(
		Action{Kind: ActionToolCall, Tool: "add", Args: map[string]any{"a": 2, "b": 3}},
		Action{Kind: ActionRespond, Content: "5"},
	))
	require.NoError(t, s.Tools().Register("add", func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(int) + args["b"].(int), nil
	}))

	rc, err := s.Run(context.Background(), "alice", "add 2 and 3", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rc.State)
	require.Len(t, rc.Steps, 2)
	assert.Equal(t, "5", rc.Steps[0].Result)
	assert.Empty(t, rc.Steps[0].Error)
}

// TestUnknownToolIsStepError checks that a missing tool produces a step-level
// error the decision function can react to, not a run abort.
func TestUnknownToolIsStepError(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(
		Action{Kind: ActionToolCall, Tool: "no_such_tool"},
		Action{Kind: ActionRespond, Content: "recovered"},
	))

	rc, err := s.Run(context.Background(), "alice", "use the tool", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rc.State)
	require.Len(t, rc.Steps, 2)
	assert.Contains(t, rc.Steps[0].Error, "unknown tool")
	assert.Contains(t, rc.Steps[0].Error, "no_such_tool")
	assert.Equal(t, "recovered", rc.FinalResponse)
}

func TestToolErrorBecomesObservation(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(
		Action{Kind: ActionToolCall, Tool: "flaky"},
		Action{Kind: ActionRespond, Content: "gave up"},
	))
	require.NoError(t, s.Tools().Register("flaky", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("backend unavailable")
	}))

	rc, err := s.Run(context.Background(), "alice", "try it", RunOptions{})
	require.NoError(t, err)

	require.Len(t, rc.Steps, 2)
	assert.Equal(t, "backend unavailable", rc.Steps[0].Error)
	// The failure is visible to the next decision via the transcript.
	assert.Contains(t, rc.Transcript[2].Content, "backend unavailable")
	assert.Equal(t, StateCompleted, rc.State)
}

func TestPanickingToolIsContained(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(
		Action{Kind: ActionToolCall, Tool: "bomb"},
		Action{Kind: ActionRespond, Content: "still here"},
	))
	require.NoError(t, s.Tools().Register("bomb", func(context.Context, map[string]any) (any, error) {
		panic("boom")
	}))

	rc, err := s.Run(context.Background(), "alice", "detonate", RunOptions{})
	require.NoError(t, err)

	assert.Contains(t, rc.Steps[0].Error, "tool panicked")
	assert.Equal(t, StateCompleted, rc.State)
}

func TestMaxStepsExhausted(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{MaxSteps: 3}, scriptDecider(Action{Kind: ActionThink, Content: "hmm"}))

	rc, err := s.Run(context.Background(), "alice", "ponder forever", RunOptions{})
	require.NoError(t, err)

	assert.True(t, rc.StepsExhausted)
	assert.Len(t, rc.Steps, 3)
	assert.Empty(t, rc.FinalResponse)
	// Exhaustion is not a terminal failure.
	assert.NotEqual(t, StateCompleted, rc.State)
	assert.NotEqual(t, StateError, rc.State)
}

func TestRunOptionsStepOverride(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{MaxSteps: 10}, scriptDecider(Action{Kind: ActionThink, Content: "hmm"}))

	rc, err := s.Run(context.Background(), "alice", "ponder briefly", RunOptions{MaxSteps: 2})
	require.NoError(t, err)

	assert.True(t, rc.StepsExhausted)
	assert.Len(t, rc.Steps, 2)
}

func TestWaitPausesRun(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(Action{Kind: ActionWait, Content: "need input"}))

	rc, err := s.Run(context.Background(), "alice", "ask me something", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateWaiting, rc.State)
	assert.False(t, rc.StepsExhausted)
	require.Len(t, rc.Steps, 1)
}

func TestDecideErrorFailsRun(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, func(context.Context, []Message) (*Action, error) {
		return nil, errors.New("model unavailable")
	})

	rc, err := s.Run(context.Background(), "alice", "anything", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateError, rc.State)
	assert.Equal(t, "model unavailable", rc.Error)
	assert.Empty(t, rc.Steps)
}

func TestNilActionFailsRun(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, func(context.Context, []Message) (*Action, error) {
		return nil, nil
	})

	rc, err := s.Run(context.Background(), "alice", "anything", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateError, rc.State)
	assert.Equal(t, ErrNoDecision.Error(), rc.Error)
}

func TestNilDecider(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, nil)
	_, err := s.Run(context.Background(), "alice", "anything", RunOptions{})
	require.ErrorIs(t, err, ErrNilDecider)
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{MaxSteps: 1000}, func(ctx context.Context, _ []Message) (*Action, error) {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
		}
		return &Action{Kind: ActionThink, Content: "still thinking"}, nil
	})

	// Per-run timeout overrides the two-minute default.
	rc, err := s.Run(context.Background(), "alice", "slow task", RunOptions{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StateError, rc.State)
	assert.Equal(t, ErrRunTimeout.Error(), rc.Error)
	assert.Less(t, len(rc.Steps), 1000)
}

func TestObservers(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(
		Action{Kind: ActionToolCall, Tool: "echo", Args: map[string]any{"msg": "hi"}},
		Action{Kind: ActionComplete, Content: "finished"},
	))
	require.NoError(t, s.Tools().Register("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args["msg"], nil
	}))

	var mu sync.Mutex
	var steps []int
	var tools []string
	var completed *RunContext
	s.OnStep(func(_ string, st Step) {
		mu.Lock()
		steps = append(steps, st.Number)
		mu.Unlock()
	})
	s.OnToolCall(func(_ string, tool string, _ map[string]any) {
		mu.Lock()
		tools = append(tools, tool)
		mu.Unlock()
	})
	s.OnComplete(func(rc *RunContext) {
		mu.Lock()
		completed = rc
		mu.Unlock()
	})

	rc, err := s.Run(context.Background(), "alice", "echo hi", RunOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, steps)
	assert.Equal(t, []string{"echo"}, tools)
	require.NotNil(t, completed)
	assert.Equal(t, rc.ID, completed.ID)
}

// TestMultipleStepObservers checks that registering a second handler on the
// same hook adds it instead of replacing the first.
func TestMultipleStepObservers(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(Action{Kind: ActionRespond, Content: "ok"}))

	var mu sync.Mutex
	var fired []string
	s.OnStep(func(string, Step) {
		mu.Lock()
		fired = append(fired, "first")
		mu.Unlock()
	})
	s.OnStep(func(string, Step) {
		mu.Lock()
		fired = append(fired, "second")
		mu.Unlock()
	})
	s.OnStep(nil) // no-op

	_, err := s.Run(context.Background(), "alice", "anything", RunOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, fired)
}

func TestPanickingObserverIsContained(t *testing.T) {
	t.Parallel()
	s := newTestAgent(t, Config{}, scriptDecider(Action{Kind: ActionRespond, Content: "ok"}))

	s.OnStep(func(string, Step) { panic("observer bug") })
	var mu sync.Mutex
	survived := false
	s.OnStep(func(string, Step) {
		mu.Lock()
		survived = true
		mu.Unlock()
	})

	rc, err := s.Run(context.Background(), "alice", "anything", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rc.State)
	// Handlers registered after the panicking one still run.
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, survived)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	require.Error(t, r.Register("", func(context.Context, map[string]any) (any, error) { return nil, nil }))
	require.Error(t, r.Register("niltool", nil))

	for _, name := range []string{"beta", "alpha"} {
		require.NoError(t, r.Register(name, func(context.Context, map[string]any) (any, error) { return nil, nil }))
	}
	assert.Equal(t, []string{"alpha", "beta"}, r.Names())

	// Lookup is exact match only.
	_, ok := r.lookup("Alpha")
	assert.False(t, ok)
	_, ok = r.lookup("alpha")
	assert.True(t, ok)

	r.Unregister("alpha")
	_, ok = r.lookup("alpha")
	assert.False(t, ok)
	r.Unregister("alpha") // no-op
}

func TestStepNumbersContiguous(t *testing.T) {
	t.Parallel()
	n := 0
	s := newTestAgent(t, Config{MaxSteps: 5}, func(context.Context, []Message) (*Action, error) {
		n++
		if n == 4 {
			return &Action{Kind: ActionRespond, Content: "done"}, nil
		}
		return &Action{Kind: ActionThink, Content: fmt.Sprintf("step %d", n)}, nil
	})

	rc, err := s.Run(context.Background(), "alice", "count", RunOptions{})
	require.NoError(t, err)
	require.Len(t, rc.Steps, 4)
	for i, st := range rc.Steps {
		assert.Equal(t, i+1, st.Number)
	}
}
