// Package session owns one progress tracker per in-flight analysis job. A
// Session serializes event application onto its reducer, publishes committed
// snapshots to listeners, and bounds its lifetime from start to a terminal
// snapshot or explicit cancellation.
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/pipeline"
	"github.com/partlab/partscope/internal/tracker"
)

// CancelledMessage is the fixed error message carried by snapshots of
// caller-cancelled sessions.
const CancelledMessage = "cancelled"

const defaultQueueSize = 256

// EventSource opens the push stream of stage events for one job. Transport
// (SSE, websocket, Pub/Sub) is the implementation's concern; handlers may be
// invoked from any goroutine.
type EventSource interface {
	// Subscribe starts delivering jobID's events to handler and returns an
	// unsubscribe function. Unsubscribe must be idempotent. The context
	// spans the whole subscription: implementations may stop delivery when
	// it ends, so callers hand in one that lives until the job is terminal.
	Subscribe(ctx context.Context, jobID string, handler func(tracker.StageEvent)) (func(), error)
}

// Submitter hands a job to the analysis backend and returns the job id used
// to open the event subscription.
type Submitter interface {
	Submit(ctx context.Context, input JobInput) (string, error)
}

// Listener receives committed snapshots. For one session, listeners are
// invoked serially, after state is committed, never inside the critical
// section that mutates it.
type Listener func(jobID string, snap tracker.Snapshot)

// Session tracks one job. All reducer access happens on a single goroutine;
// Snapshot and Cancel are safe from any goroutine and never block.
type Session struct {
	jobID      string
	normalizer *pipeline.Normalizer
	reducer    *tracker.Reducer
	logger     *zap.Logger
	onUnknown  func(jobID, rawStage string)

	current    atomic.Pointer[tracker.Snapshot]
	finishedAt atomic.Int64
	closed     atomic.Bool

	events   chan tracker.StageEvent
	cancelCh chan string
	done     chan struct{}

	// lifeCtx spans job submission through the terminal snapshot. It is the
	// context handed to EventSource.Subscribe, so delivery is never tied to
	// the lifetime of whichever request happened to start the session.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu           sync.Mutex
	listeners    map[int]Listener
	nextListener int
	unsubOnce    sync.Once
	unsubscribe  func()
}

func newSession(
	jobID string,
	catalog *pipeline.Catalog,
	normalizer *pipeline.Normalizer,
	queueSize int,
	onUnknown func(jobID, rawStage string),
	logger *zap.Logger,
) *Session {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Session{
		jobID:      jobID,
		normalizer: normalizer,
		reducer:    tracker.NewReducer(catalog),
		logger:     logger.With(zap.String("job_id", jobID)),
		onUnknown:  onUnknown,
		events:     make(chan tracker.StageEvent, queueSize),
		cancelCh:   make(chan string, 1),
		done:       make(chan struct{}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		listeners:  make(map[int]Listener),
	}
	initial := s.reducer.Snapshot()
	s.current.Store(&initial)
	return s
}

// JobID returns the identifier of the tracked job.
func (s *Session) JobID() string {
	return s.jobID
}

// Snapshot returns the latest committed snapshot. It never blocks.
func (s *Session) Snapshot() tracker.Snapshot {
	return *s.current.Load()
}

// Done is closed once the session reaches a terminal snapshot.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// FinishedAt returns when the session turned terminal, or the zero time.
func (s *Session) FinishedAt() time.Time {
	n := s.finishedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

// OnUpdate registers a listener invoked once per accepted transition with
// the new snapshot. Multiple listeners may be registered; delivery for one
// session is serialized. The returned func removes the listener and is
// idempotent; short-lived consumers (streaming handlers) must call it so
// long jobs do not accumulate dead listeners.
func (s *Session) OnUpdate(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Cancel requests a terminal Error snapshot with the fixed cancelled
// message. It is safe from any goroutine, never blocks, and is a no-op when
// the session is already terminal.
func (s *Session) Cancel() {
	select {
	case s.cancelCh <- CancelledMessage:
	default:
	}
}

// deliver enqueues one inbound event. It never blocks the transport; when
// the queue is full or the session has shut down the event is dropped with a
// warning, which the reducer's ordering guarantees make safe.
func (s *Session) deliver(evt tracker.StageEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- evt:
	default:
		s.logger.Warn("event queue full, dropping stage event",
			zap.String("stage", evt.RawStage))
	}
}

// start launches the processing loop. unsubscribe closes the transport
// subscription once the session turns terminal.
func (s *Session) start(unsubscribe func()) {
	s.unsubscribe = unsubscribe
	go s.run()
}

// abort freezes a session that never got a working subscription. The caller
// always receives a renderable terminal snapshot instead of an error.
func (s *Session) abort(message string) {
	snap, _ := s.reducer.Fail(message)
	s.closed.Store(true)
	s.commit(snap)
	close(s.done)
}

func (s *Session) run() {
	for {
		select {
		case reason := <-s.cancelCh:
			if snap, accepted := s.reducer.Fail(reason); accepted {
				s.commit(snap)
			}
		case evt := <-s.events:
			s.handleEvent(evt)
		}
		if s.Snapshot().Terminal() {
			s.closed.Store(true)
			s.drain()
			close(s.done)
			return
		}
	}
}

// drain processes whatever was queued before shutdown; the reducer discards
// everything once terminal.
func (s *Session) drain() {
	for {
		select {
		case evt := <-s.events:
			s.handleEvent(evt)
		default:
			return
		}
	}
}

func (s *Session) handleEvent(evt tracker.StageEvent) {
	// Backend releases drift on status spellings ("running", "done",
	// "failed"); canonicalize before validation so drift is not dropped.
	if status, err := tracker.ParseStatus(string(evt.Status)); err == nil {
		evt.Status = status
	}
	if err := evt.Validate(); err != nil {
		s.logger.Debug("discarding invalid stage event", zap.Error(err))
		return
	}
	stage, ok := s.normalizer.Normalize(evt.RawStage)
	if !ok {
		s.logger.Warn("unknown stage in event, dropping",
			zap.String("stage", evt.RawStage))
		if s.onUnknown != nil {
			s.onUnknown(s.jobID, evt.RawStage)
		}
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	snap, accepted := s.reducer.Apply(stage, evt)
	if !accepted {
		return
	}
	s.commit(snap)
}

// commit publishes the snapshot, closes the subscription on terminal
// transitions, and then notifies listeners. A slow listener delays later
// notifications for this session but never event ingestion elsewhere.
func (s *Session) commit(snap tracker.Snapshot) {
	s.current.Store(&snap)
	if snap.Terminal() {
		s.finishedAt.CompareAndSwap(0, time.Now().UnixMilli())
		s.closeSubscription()
	}
	for _, l := range s.snapshotListeners() {
		l(s.jobID, snap)
	}
}

func (s *Session) snapshotListeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

func (s *Session) closeSubscription() {
	s.unsubOnce.Do(func() {
		s.lifeCancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}
