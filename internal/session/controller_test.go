package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MegaGrindStone/datachat/internal/models"
	"github.com/MegaGrindStone/datachat/internal/session"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"
)

type mockBackend struct {
	resp models.QueryResponse
	err  error

	// release, when set, blocks every query until it is closed.
	release chan struct{}
	// waitCtx makes every query block until its context is done.
	waitCtx bool

	calls   atomic.Int32
	prompts chan string
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []models.Snapshot
}

var ignoreEntryMeta = cmpopts.IgnoreFields(models.ChatEntry{}, "ID", "Timestamp")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitBlankInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			backend := &mockBackend{}
			rec := &snapshotRecorder{}
			c := session.NewController(backend, session.WithObserver(rec.record))

			outcome := wait(t, c.Submit(input, true))
			if outcome != session.OutcomeIgnored {
				t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeIgnored)
			}

			snap := c.Snapshot()
			if len(snap.History) != 0 {
				t.Errorf("History length = %d, want 0", len(snap.History))
			}
			if snap.AwaitingResponse() {
				t.Error("AwaitingResponse() = true, want false")
			}
			if n := len(rec.all()); n != 0 {
				t.Errorf("observer called %d times, want 0", n)
			}
			if n := backend.calls.Load(); n != 0 {
				t.Errorf("backend called %d times, want 0", n)
			}
		})
	}
}

func TestSubmitWithoutDataset(t *testing.T) {
	backend := &mockBackend{}
	c := session.NewController(backend)
	c.UpdateInput("show sales")

	outcome := wait(t, c.Submit("show sales", false))
	if outcome != session.OutcomeRejected {
		t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeRejected)
	}

	snap := c.Snapshot()
	want := []models.ChatEntry{
		{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageNoDataset},
	}
	if diff := cmp.Diff(want, snap.History, ignoreEntryMeta); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
	if snap.State != models.StateIdle {
		t.Errorf("State = %v, want %v", snap.State, models.StateIdle)
	}
	if snap.Input != "show sales" {
		t.Errorf("Input = %q, want it untouched", snap.Input)
	}
	if n := backend.calls.Load(); n != 0 {
		t.Errorf("backend called %d times, want 0", n)
	}
}

func TestSubmitOffTopic(t *testing.T) {
	tests := []struct {
		name     string
		denylist session.Denylist
		input    string
	}{
		{
			name:  "Default keyword",
			input: "Tell me about ALIEN sightings",
		},
		{
			name:  "Default multi-word keyword",
			input: "who won the Monster Truck rally",
		},
		{
			name:     "Configured keyword",
			denylist: session.NewDenylist("weather"),
			input:    "What's the Weather like",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			opts := []session.Option{}
			if tt.denylist != nil {
				opts = append(opts, session.WithDenylist(tt.denylist))
			}
			c := session.NewController(backend, opts...)
			c.UpdateInput(tt.input)

			outcome := wait(t, c.Submit(tt.input, true))
			if outcome != session.OutcomeRejected {
				t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeRejected)
			}

			snap := c.Snapshot()
			want := []models.ChatEntry{
				{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageOffTopic},
			}
			if diff := cmp.Diff(want, snap.History, ignoreEntryMeta); diff != "" {
				t.Errorf("History mismatch (-want +got):\n%s", diff)
			}
			if snap.Input != "" {
				t.Errorf("Input = %q, want empty", snap.Input)
			}
			if n := backend.calls.Load(); n != 0 {
				t.Errorf("backend called %d times, want 0", n)
			}
		})
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		resp    models.QueryResponse
		wantBot models.ChatEntry
	}{
		{
			name:    "Text answer",
			resp:    models.QueryResponse{Description: "X"},
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: "X"},
		},
		{
			name:    "Text answer without description",
			resp:    models.QueryResponse{},
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageTextFallback},
		},
		{
			name: "Chart answer",
			resp: models.QueryResponse{Visualization: `{"mark":"bar"}`, Description: "Y"},
			wantBot: models.ChatEntry{
				Role: models.RoleBot, Kind: models.KindChart, Content: `{"mark":"bar"}`, Caption: "Y",
			},
		},
		{
			name: "Chart answer without description",
			resp: models.QueryResponse{Visualization: `{"mark":"bar"}`},
			wantBot: models.ChatEntry{
				Role: models.RoleBot, Kind: models.KindChart, Content: `{"mark":"bar"}`,
				Caption: session.MessageChartCaption,
			},
		},
		{
			name:    "Unparseable chart",
			resp:    models.QueryResponse{Visualization: `{"mark":`, Description: "Y"},
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageInvalidChart},
		},
		{
			name:    "Scalar chart",
			resp:    models.QueryResponse{Visualization: `"42"`, Description: "Y"},
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageInvalidChart},
		},
		{
			name:    "Array chart",
			resp:    models.QueryResponse{Visualization: `[1,2]`, Description: "Y"},
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageInvalidChart},
		},
		{
			name:    "Null chart",
			resp:    models.QueryResponse{Visualization: `null`, Description: "Y"},
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageInvalidChart},
		},
		{
			name:    "Decoded false visualization",
			resp:    decodeResponse(t, `{"visualization":false,"description":"Y"}`),
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: "Y"},
		},
		{
			name:    "Decoded zero visualization",
			resp:    decodeResponse(t, `{"visualization":0,"description":"Y"}`),
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: "Y"},
		},
		{
			name:    "Decoded empty visualization",
			resp:    decodeResponse(t, `{"visualization":"","description":"Y"}`),
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: "Y"},
		},
		{
			name:    "Decoded serialized scalar",
			resp:    decodeResponse(t, `{"visualization":"42","description":"Y"}`),
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageInvalidChart},
		},
		{
			name:    "Decoded array",
			resp:    decodeResponse(t, `{"visualization":[1,2],"description":"Y"}`),
			wantBot: models.ChatEntry{Role: models.RoleBot, Kind: models.KindText, Content: session.MessageInvalidChart},
		},
		{
			name: "Decoded embedded chart",
			resp: decodeResponse(t, `{"visualization":{"mark":"bar"},"description":"Y"}`),
			wantBot: models.ChatEntry{
				Role: models.RoleBot, Kind: models.KindChart, Content: `{"mark":"bar"}`, Caption: "Y",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{resp: tt.resp, prompts: make(chan string, 1)}
			c := session.NewController(backend)
			c.UpdateInput("show sales")

			outcome := wait(t, c.Submit("show sales", true))
			if outcome != session.OutcomeAnswered {
				t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeAnswered)
			}
			if got := <-backend.prompts; got != "show sales" {
				t.Errorf("backend prompt = %q, want %q", got, "show sales")
			}

			snap := c.Snapshot()
			want := []models.ChatEntry{
				{Role: models.RoleUser, Kind: models.KindText, Content: "show sales"},
				tt.wantBot,
			}
			if diff := cmp.Diff(want, snap.History, ignoreEntryMeta); diff != "" {
				t.Errorf("History mismatch (-want +got):\n%s", diff)
			}
			if snap.AwaitingResponse() {
				t.Error("AwaitingResponse() = true, want false")
			}
			if snap.Input != "" {
				t.Errorf("Input = %q, want empty", snap.Input)
			}
		})
	}
}

func TestSubmitFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "Server detail",
			err:  &models.APIError{StatusCode: 500, Detail: "bad prompt"},
			want: "bad prompt",
		},
		{
			name: "Server without detail",
			err:  &models.APIError{StatusCode: 502},
			want: session.MessageUnknownServer,
		},
		{
			name: "Wrapped server detail",
			err:  fmt.Errorf("query: %w", &models.APIError{StatusCode: 422, Detail: "prompt is required"}),
			want: "prompt is required",
		},
		{
			name: "Malformed payload",
			err:  fmt.Errorf("decode: %w", models.ErrMalformedResponse),
			want: session.MessageUnreadable,
		},
		{
			name: "Transport",
			err:  errors.New("connection refused"),
			want: session.MessageTransportFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{err: tt.err}
			c := session.NewController(backend)

			req := c.Submit("show sales", true)
			outcome := wait(t, req)
			if outcome != session.OutcomeFailed {
				t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeFailed)
			}
			if !errors.Is(req.Err(), tt.err) {
				t.Errorf("Err() = %v, want %v", req.Err(), tt.err)
			}

			snap := c.Snapshot()
			want := []models.ChatEntry{
				{Role: models.RoleUser, Kind: models.KindText, Content: "show sales"},
				{Role: models.RoleBot, Kind: models.KindText, Content: tt.want},
			}
			if diff := cmp.Diff(want, snap.History, ignoreEntryMeta); diff != "" {
				t.Errorf("History mismatch (-want +got):\n%s", diff)
			}
			if snap.AwaitingResponse() {
				t.Error("AwaitingResponse() = true, want false")
			}
		})
	}
}

func TestSubmitWhileAwaitingResponse(t *testing.T) {
	backend := &mockBackend{resp: models.QueryResponse{Description: "X"}, release: make(chan struct{})}
	c := session.NewController(backend)

	first := c.Submit("show sales", true)

	snap := c.Snapshot()
	if !snap.AwaitingResponse() {
		t.Fatal("AwaitingResponse() = false, want true")
	}
	if last := snap.History[len(snap.History)-1]; last.Kind != models.KindPending {
		t.Errorf("last entry kind = %v, want %v", last.Kind, models.KindPending)
	}

	second := wait(t, c.Submit("show costs", true))
	if second != session.OutcomeIgnored {
		t.Errorf("second Submit() outcome = %v, want %v", second, session.OutcomeIgnored)
	}
	if n := countPending(c.Snapshot().History); n != 1 {
		t.Errorf("pending entries = %d, want 1", n)
	}

	close(backend.release)
	if outcome := wait(t, first); outcome != session.OutcomeAnswered {
		t.Errorf("first Submit() outcome = %v, want %v", outcome, session.OutcomeAnswered)
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
	if n := countPending(c.Snapshot().History); n != 0 {
		t.Errorf("pending entries = %d, want 0", n)
	}
}

func TestSnapshotVersion(t *testing.T) {
	backend := &mockBackend{err: errors.New("connection refused")}
	rec := &snapshotRecorder{}
	c := session.NewController(backend, session.WithObserver(rec.record))

	c.UpdateInput("plot sales")
	wait(t, c.Submit("plot sales", true))
	c.Clear()

	snaps := rec.all()
	if len(snaps) != 4 {
		t.Fatalf("observer called %d times, want 4", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Version <= snaps[i-1].Version {
			t.Errorf("snapshot %d: version = %d, want greater than %d", i, snaps[i].Version, snaps[i-1].Version)
		}
	}

	// The resolved snapshot outranks the pending one a slow reader may still hold.
	if snaps[1].AwaitingResponse() == snaps[2].AwaitingResponse() {
		t.Errorf("snapshots 1 and 2 both have AwaitingResponse() = %v", snaps[1].AwaitingResponse())
	}
	if got, want := c.Snapshot().Version, snaps[len(snaps)-1].Version; got != want {
		t.Errorf("Snapshot().Version = %d, want %d", got, want)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	backend := &mockBackend{resp: models.QueryResponse{Description: "answer"}}
	rec := &snapshotRecorder{}
	c := session.NewController(backend, session.WithObserver(rec.record))

	for i := range 5 {
		wait(t, c.Submit(fmt.Sprintf("question %d", i), true))
	}

	snaps := rec.all()
	if len(snaps) != 10 {
		t.Fatalf("observer called %d times, want 10", len(snaps))
	}
	for i, snap := range snaps {
		if len(snap.History) > session.DefaultHistoryLimit {
			t.Errorf("snapshot %d: history length = %d, want at most %d",
				i, len(snap.History), session.DefaultHistoryLimit)
		}
		if n := countPending(snap.History); n > 1 {
			t.Errorf("snapshot %d: pending entries = %d, want at most 1", i, n)
		}
	}

	want := []models.ChatEntry{
		{Role: models.RoleUser, Kind: models.KindText, Content: "question 3"},
		{Role: models.RoleBot, Kind: models.KindText, Content: "answer"},
		{Role: models.RoleUser, Kind: models.KindText, Content: "question 4"},
		{Role: models.RoleBot, Kind: models.KindText, Content: "answer"},
	}
	if diff := cmp.Diff(want, c.Snapshot().History, ignoreEntryMeta); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryLimitOption(t *testing.T) {
	c := session.NewController(&mockBackend{}, session.WithHistoryLimit(2))

	for range 3 {
		wait(t, c.Submit("show sales", false))
	}

	if n := len(c.Snapshot().History); n != 2 {
		t.Errorf("History length = %d, want 2", n)
	}
}

func TestObserverOrder(t *testing.T) {
	backend := &mockBackend{resp: models.QueryResponse{Description: "X"}}
	rec := &snapshotRecorder{}
	c := session.NewController(backend, session.WithObserver(rec.record))

	c.UpdateInput("show sales")
	wait(t, c.Submit("show sales", true))

	var states []models.State
	var lengths []int
	for _, snap := range rec.all() {
		states = append(states, snap.State)
		lengths = append(lengths, len(snap.History))
	}

	wantStates := []models.State{models.StateIdle, models.StateAwaitingResponse, models.StateIdle}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	wantLengths := []int{0, 2, 2}
	if diff := cmp.Diff(wantLengths, lengths); diff != "" {
		t.Errorf("history lengths mismatch (-want +got):\n%s", diff)
	}
}

func TestClearDuringFlight(t *testing.T) {
	backend := &mockBackend{resp: models.QueryResponse{Description: "late"}, release: make(chan struct{})}
	c := session.NewController(backend)

	req := c.Submit("show sales", true)
	c.UpdateInput("draft")
	c.Clear()

	snap := c.Snapshot()
	if len(snap.History) != 0 {
		t.Errorf("History length = %d, want 0", len(snap.History))
	}
	if snap.Input != "" {
		t.Errorf("Input = %q, want empty", snap.Input)
	}
	if !snap.AwaitingResponse() {
		t.Error("AwaitingResponse() = false, want true until the abandoned request completes")
	}

	close(backend.release)
	if outcome := wait(t, req); outcome != session.OutcomeDiscarded {
		t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeDiscarded)
	}

	snap = c.Snapshot()
	if len(snap.History) != 0 {
		t.Errorf("History length = %d, want 0", len(snap.History))
	}
	if snap.AwaitingResponse() {
		t.Error("AwaitingResponse() = true, want false")
	}
}

func TestClearWhileIdle(t *testing.T) {
	c := session.NewController(&mockBackend{resp: models.QueryResponse{Description: "X"}})

	wait(t, c.Submit("show sales", true))
	c.Clear()

	if n := len(c.Snapshot().History); n != 0 {
		t.Errorf("History length = %d, want 0", n)
	}

	if outcome := wait(t, c.Submit("show sales", true)); outcome != session.OutcomeAnswered {
		t.Errorf("Submit() after Clear() outcome = %v, want %v", outcome, session.OutcomeAnswered)
	}
	if n := len(c.Snapshot().History); n != 2 {
		t.Errorf("History length = %d, want 2", n)
	}
}

func TestCloseDuringFlight(t *testing.T) {
	backend := &mockBackend{resp: models.QueryResponse{Description: "late"}, release: make(chan struct{})}
	rec := &snapshotRecorder{}
	c := session.NewController(backend, session.WithObserver(rec.record))

	req := c.Submit("show sales", true)
	c.Close()
	calls := len(rec.all())

	close(backend.release)
	if outcome := wait(t, req); outcome != session.OutcomeDiscarded {
		t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeDiscarded)
	}
	if n := len(rec.all()); n != calls {
		t.Errorf("observer called %d times after Close(), want 0", n-calls)
	}

	if outcome := wait(t, c.Submit("show sales", true)); outcome != session.OutcomeIgnored {
		t.Errorf("Submit() after Close() outcome = %v, want %v", outcome, session.OutcomeIgnored)
	}
}

func TestRequestTimeout(t *testing.T) {
	backend := &mockBackend{waitCtx: true}
	c := session.NewController(backend, session.WithRequestTimeout(10*time.Millisecond))

	req := c.Submit("show sales", true)
	if outcome := wait(t, req); outcome != session.OutcomeFailed {
		t.Errorf("Submit() outcome = %v, want %v", outcome, session.OutcomeFailed)
	}
	if !errors.Is(req.Err(), context.DeadlineExceeded) {
		t.Errorf("Err() = %v, want %v", req.Err(), context.DeadlineExceeded)
	}

	history := c.Snapshot().History
	if got := history[len(history)-1].Content; got != session.MessageTransportFailed {
		t.Errorf("last entry = %q, want %q", got, session.MessageTransportFailed)
	}
}

func TestRequestWaitContext(t *testing.T) {
	backend := &mockBackend{release: make(chan struct{})}
	c := session.NewController(backend)

	req := c.Submit("show sales", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := req.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want %v", err, context.Canceled)
	}
	if req.Err() != nil {
		t.Errorf("Err() before resolution = %v, want nil", req.Err())
	}

	close(backend.release)
	wait(t, req)
}

func (m *mockBackend) Query(ctx context.Context, prompt string) (models.QueryResponse, error) {
	m.calls.Add(1)
	if m.prompts != nil {
		m.prompts <- prompt
	}
	if m.release != nil {
		<-m.release
	}
	if m.waitCtx {
		<-ctx.Done()
		return models.QueryResponse{}, ctx.Err()
	}
	return m.resp, m.err
}

func (r *snapshotRecorder) record(s models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) all() []models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.Snapshot(nil), r.snaps...)
}

func wait(t *testing.T, req *session.Request) session.Outcome {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := req.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return outcome
}

func countPending(history []models.ChatEntry) int {
	n := 0
	for _, e := range history {
		if e.Kind == models.KindPending {
			n++
		}
	}
	return n
}

func decodeResponse(t *testing.T, body string) models.QueryResponse {
	t.Helper()

	var resp models.QueryResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("failed to decode %s: %v", body, err)
	}
	return resp
}
