package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/denniswebb/shuttlewire/internal/iptables"
)

func TestNewPollerValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(cfg *PollerConfig)
		expectError string
	}{
		{
			name:        "missing reader",
			mutate:      func(cfg *PollerConfig) { cfg.Reader = nil },
			expectError: "state reader is required",
		},
		{
			name:        "missing chain",
			mutate:      func(cfg *PollerConfig) { cfg.Chain = "" },
			expectError: "chain name is required",
		},
		{
			name:        "non positive poll interval",
			mutate:      func(cfg *PollerConfig) { cfg.PollInterval = 0 },
			expectError: "poll interval must be positive",
		},
		{
			name:   "nil logger tolerated",
			mutate: func(cfg *PollerConfig) { cfg.Logger = nil },
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, _ := newBufferLogger()
			cfg := PollerConfig{
				Reader:       newMockStateReader(stateResponse{state: iptables.StateBound}),
				Chain:        "shuttlewire-12300",
				PollInterval: 10 * time.Millisecond,
				Logger:       logger,
			}
			tc.mutate(&cfg)

			poller, err := NewPoller(cfg)

			if tc.expectError != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.expectError)
				}
				if !strings.Contains(err.Error(), tc.expectError) {
					t.Fatalf("expected error to contain %q, got %v", tc.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if poller == nil {
				t.Fatal("expected poller instance")
			}
		})
	}
}

func TestPollerRunScenarios(t *testing.T) {
	t.Parallel()

	bound, created, absent := iptables.StateBound, iptables.StateCreated, iptables.StateAbsent

	tests := []struct {
		name        string
		responses   []stateResponse
		handlerErr  []error
		polls       int
		transitions []transitionCall
		logContains []string
	}{
		{
			name:        "first observation reported",
			responses:   []stateResponse{{state: bound}},
			polls:       1,
			transitions: []transitionCall{{Previous: absent, Current: bound}},
			logContains: []string{"initialized chain state", "level=DEBUG"},
		},
		{
			name:        "no change stays silent",
			responses:   []stateResponse{{state: bound}, {state: bound}},
			polls:       2,
			transitions: []transitionCall{{Previous: absent, Current: bound}},
			logContains: []string{"chain state unchanged"},
		},
		{
			name:      "jump removed externally",
			responses: []stateResponse{{state: bound}, {state: created}},
			polls:     2,
			transitions: []transitionCall{
				{Previous: absent, Current: bound},
				{Previous: bound, Current: created},
			},
			logContains: []string{"chain no longer bound", "level=WARN"},
		},
		{
			name:      "chain rebound",
			responses: []stateResponse{{state: created}, {state: bound}},
			polls:     2,
			transitions: []transitionCall{
				{Previous: absent, Current: created},
				{Previous: created, Current: bound},
			},
			logContains: []string{"chain state changed", "level=INFO"},
		},
		{
			name:      "read error logs warning and continues",
			responses: []stateResponse{{state: bound}, {err: errors.New("exit status 4")}, {state: absent}},
			polls:     3,
			transitions: []transitionCall{
				{Previous: absent, Current: bound},
				{Previous: bound, Current: absent},
			},
			logContains: []string{"failed to read chain state", "level=WARN"},
		},
		{
			name:       "transition handler error logged",
			responses:  []stateResponse{{state: bound}, {state: created}},
			handlerErr: []error{nil, errors.New("handler boom")},
			polls:      2,
			transitions: []transitionCall{
				{Previous: absent, Current: bound},
				{Previous: bound, Current: created},
			},
			logContains: []string{"transition handler failed"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reader := newMockStateReader(tc.responses...)
			handler := &recordingTransitionHandler{responses: tc.handlerErr}
			logger, buf := newBufferLogger()

			poller, err := NewPoller(PollerConfig{
				Reader:            reader,
				Chain:             "shuttlewire-12300",
				PollInterval:      5 * time.Millisecond,
				Logger:            logger,
				TransitionHandler: handler,
			})
			if err != nil {
				t.Fatalf("unexpected error creating poller: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				poller.Run(ctx)
				close(done)
			}()

			reader.WaitForCalls(t, tc.polls, time.Second)
			cancel()
			<-done

			if got := handler.Transitions(); !equalTransitions(got, tc.transitions) {
				t.Fatalf("unexpected transitions: got %#v want %#v", got, tc.transitions)
			}

			logs := buf.String()
			for _, snippet := range tc.logContains {
				if !strings.Contains(logs, snippet) {
					t.Fatalf("expected logs to contain %q, got %q", snippet, logs)
				}
			}
		})
	}
}

func TestPollerStopLogsLastState(t *testing.T) {
	t.Parallel()

	reader := newMockStateReader(stateResponse{state: iptables.StateBound})
	logger, buf := newBufferLogger()

	poller, err := NewPoller(PollerConfig{
		Reader:       reader,
		Chain:        "shuttlewire-12300",
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("unexpected error creating poller: %v", err)
	}

	if _, ok := poller.currentState(); ok {
		t.Fatal("expected no observed state before polling")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	reader.WaitForCalls(t, 1, time.Second)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}

	if state, ok := poller.currentState(); !ok || state != iptables.StateBound {
		t.Fatalf("expected bound state, got %v (observed=%v)", state, ok)
	}
	if !strings.Contains(buf.String(), "stopping chain monitor") || !strings.Contains(buf.String(), "last_state=bound") {
		t.Fatalf("expected stop log with last state, got %q", buf.String())
	}
}

type stateResponse struct {
	state iptables.State
	err   error
}

type mockStateReader struct {
	mu        sync.Mutex
	responses []stateResponse
	calls     int
	callCh    chan struct{}
}

func newMockStateReader(responses ...stateResponse) *mockStateReader {
	return &mockStateReader{
		responses: responses,
		callCh:    make(chan struct{}, 64),
	}
}

// ChainState replays responses in order and then repeats the last one.
func (m *mockStateReader) ChainState(ctx context.Context) (iptables.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := min(m.calls, len(m.responses)-1)
	resp := m.responses[index]
	m.calls++
	select {
	case m.callCh <- struct{}{}:
	default:
	}
	return resp.state, resp.err
}

func (m *mockStateReader) WaitForCalls(t *testing.T, count int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-m.callCh:
		case <-deadline:
			t.Fatalf("timed out waiting for %d state reads", count)
		}
	}
}

type transitionCall struct {
	Previous iptables.State
	Current  iptables.State
}

type recordingTransitionHandler struct {
	mu        sync.Mutex
	calls     []transitionCall
	responses []error
}

func (h *recordingTransitionHandler) OnTransition(ctx context.Context, previous iptables.State, current iptables.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, transitionCall{Previous: previous, Current: current})
	if len(h.responses) == 0 {
		return nil
	}

	err := h.responses[0]
	h.responses = h.responses[1:]
	return err
}

func (h *recordingTransitionHandler) Transitions() []transitionCall {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]transitionCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func equalTransitions(a, b []transitionCall) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), buf
}
