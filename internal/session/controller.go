package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/datachat/internal/models"
)

// Backend answers prompts about the dataset currently ingested by the analysis service.
type Backend interface {
	Query(ctx context.Context, prompt string) (models.QueryResponse, error)
}

// Controller owns a single conversation: its input buffer, its bounded history and the lifecycle of the
// query request sent to the Backend. All exported methods are safe for concurrent use.
//
// Every failure of a query is converted into a bot entry, nothing is propagated to the caller.
type Controller struct {
	backend  Backend
	denylist Denylist
	limit    int
	timeout  time.Duration
	observer func(models.Snapshot)
	logger   *slog.Logger

	// notifyMu is taken before mu is released, so observers see snapshots in mutation order.
	mu       sync.Mutex
	notifyMu sync.Mutex

	input   string
	history []models.ChatEntry
	state   models.State
	// generation is bumped by Clear, responses of an older generation are discarded.
	generation uint64
	version    uint64
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// Outcome is the terminal result of a Submit call.
type Outcome int

// Request tracks a single Submit call until it resolves.
type Request struct {
	done    chan struct{}
	outcome Outcome
	err     error
}

const (
	// OutcomeIgnored means the submit didn't change the conversation: blank input, a request already in
	// flight, or a closed controller.
	OutcomeIgnored Outcome = iota
	// OutcomeRejected means a local precondition failed and the bot explained why. The backend wasn't
	// contacted.
	OutcomeRejected
	// OutcomeAnswered means the backend answered and its answer was appended.
	OutcomeAnswered
	// OutcomeFailed means the query failed and an error entry was appended.
	OutcomeFailed
	// OutcomeDiscarded means the query resolved after the conversation was cleared or closed.
	OutcomeDiscarded
)

const errLoggerKey = "err"

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAnswered:
		return "answered"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// WithDenylist replaces the default off-topic keywords.
func WithDenylist(d Denylist) Option {
	return func(c *Controller) {
		c.denylist = d
	}
}

// WithHistoryLimit sets how many entries the conversation keeps. Non-positive values are ignored.
func WithHistoryLimit(limit int) Option {
	return func(c *Controller) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithRequestTimeout bounds each query request. Zero means no timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger of the controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver registers fn to be called with a fresh snapshot after every mutation. fn must not call
// mutating methods of the controller.
func WithObserver(fn func(models.Snapshot)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// NewController creates an idle Controller with an empty conversation.
func NewController(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		denylist: NewDenylist(DefaultOffTopicKeywords...),
		limit:    DefaultHistoryLimit,
		observer: func(models.Snapshot) {},
		logger:   slog.Default(),
		state:    models.StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("module", "session"))

	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// UpdateInput replaces the input buffer.
func (c *Controller) UpdateInput(input string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.input = input
	c.commitLocked()
}

// Submit validates rawInput and, when it passes, sends it to the backend in the background. The checks
// run in order: blank input is ignored, a missing dataset or an off-topic input is answered locally.
// The returned Request resolves once the conversation reached its next idle point.
func (c *Controller) Submit(rawInput string, datasetAvailable bool) *Request {
	c.mu.Lock()

	if c.closed || strings.TrimSpace(rawInput) == "" {
		c.mu.Unlock()
		return resolvedRequest(OutcomeIgnored)
	}

	if c.state == models.StateAwaitingResponse {
		c.mu.Unlock()
		c.logger.Warn("Submit while a request is in flight", slog.String("input", rawInput))
		return resolvedRequest(OutcomeIgnored)
	}

	if !datasetAvailable {
		c.history = appendEntries(c.history, c.limit, models.BotText(MessageNoDataset))
		c.commitLocked()
		return resolvedRequest(OutcomeRejected)
	}

	if keyword, ok := c.denylist.Match(rawInput); ok {
		c.history = appendEntries(c.history, c.limit, models.BotText(MessageOffTopic))
		c.input = ""
		c.commitLocked()
		c.logger.Info("Rejected off-topic input", slog.String("keyword", keyword))
		return resolvedRequest(OutcomeRejected)
	}

	c.history = appendEntries(c.history, c.limit,
		models.UserText(rawInput),
		models.BotPending(MessagePending),
	)
	c.state = models.StateAwaitingResponse
	c.input = ""
	gen := c.generation
	req := &Request{done: make(chan struct{})}
	c.commitLocked()

	go c.query(req, gen, rawInput)

	return req
}

// Clear empties the history and the input buffer. A request in flight keeps running, but its answer is
// discarded when it arrives, and the conversation stays in the awaiting state until then.
func (c *Controller) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.history = nil
	c.input = ""
	c.generation++
	c.commitLocked()
}

// Close abandons the conversation. A request in flight is left to complete, its answer is dropped and
// observers aren't called anymore.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

func (c *Controller) query(req *Request, gen uint64, prompt string) {
	defer close(req.done)

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var entry models.ChatEntry
	resp, err := c.backend.Query(ctx, prompt)
	if err != nil {
		c.logger.Error("Query failed",
			slog.String("prompt", prompt),
			slog.String(errLoggerKey, err.Error()))
		entry = EntryForError(err)
		req.outcome = OutcomeFailed
		req.err = err
	} else {
		entry = EntryForResponse(resp)
		req.outcome = OutcomeAnswered
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		req.outcome = OutcomeDiscarded
		return
	}

	c.state = models.StateIdle
	if gen != c.generation {
		c.logger.Debug("Discarding response of a cleared conversation", slog.String("prompt", prompt))
		req.outcome = OutcomeDiscarded
		c.commitLocked()
		return
	}

	c.history = appendEntries(removeTrailingPending(c.history), c.limit, entry)
	c.commitLocked()
}

func (c *Controller) snapshotLocked() models.Snapshot {
	return models.Snapshot{
		Input:   c.input,
		History: Truncate(c.history, c.limit),
		State:   c.state,
		Version: c.version,
	}
}

// commitLocked hands the current state to the observer. It must be called with mu held and releases it.
func (c *Controller) commitLocked() {
	c.version++
	snap := c.snapshotLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.observer(snap)
}

func resolvedRequest(o Outcome) *Request {
	r := &Request{
		done:    make(chan struct{}),
		outcome: o,
	}
	close(r.done)
	return r
}

// Done is closed once the request resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request resolved or ctx is done. The returned error is only ever the error of
// ctx, use Err for the failure reason of the query.
func (r *Request) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return OutcomeIgnored, ctx.Err()
	}
}

// Err returns the reason of an OutcomeFailed request, once it resolved.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
