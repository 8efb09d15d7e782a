package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/pipeline"
)

// ErrInvalidInput rejects a job submission before any session starts.
var ErrInvalidInput = errors.New("invalid job input")

// ErrSessionExists signals a job id that is already being tracked.
var ErrSessionExists = errors.New("session already exists for job")

// JobInput describes one analysis request: the artifact to analyze plus
// optional hints forwarded to the backend.
type JobInput struct {
	// ArtifactURL points at the image or document to analyze. Required.
	ArtifactURL string `json:"artifact_url"`
	// Hints are optional free-form cues for the identification agents.
	Hints map[string]string `json:"hints,omitempty"`
	// Notes is an optional free-text remark shown in history rows.
	Notes string `json:"notes,omitempty"`
}

// Validate enforces required fields.
func (in JobInput) Validate() error {
	if strings.TrimSpace(in.ArtifactURL) == "" {
		return fmt.Errorf("%w: artifact_url is required", ErrInvalidInput)
	}
	return nil
}

// Config controls Manager behavior.
type Config struct {
	// QueueSize bounds each session's event queue (default 256).
	QueueSize int
	// Logger is shared by all sessions; nil means no-op.
	Logger *zap.Logger
	// OnUnknownStage is called for events whose stage the normalizer could
	// not resolve. Optional; used for metrics.
	OnUnknownStage func(jobID, rawStage string)
}

// Manager keys live sessions by job id. Sessions are fully independent, so
// concurrently submitted jobs track in parallel with no shared mutable state.
type Manager struct {
	submitter  Submitter
	source     EventSource
	catalog    *pipeline.Catalog
	normalizer *pipeline.Normalizer
	cfg        Config
	logger     *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []Listener
}

// NewManager wires the backend submitter and the event source.
func NewManager(submitter Submitter, source EventSource, catalog *pipeline.Catalog, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		submitter:  submitter,
		source:     source,
		catalog:    catalog,
		normalizer: pipeline.NewNormalizer(catalog),
		cfg:        cfg,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// OnUpdate registers a listener attached to every current and future
// session (metrics, persistence, archiving).
func (m *Manager) OnUpdate(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.OnUpdate(l)
	}
}

// Start validates the input, submits the job to the backend, and begins
// tracking the returned job id. Validation failures are ErrInvalidInput;
// submission failures are returned verbatim. Subscription failures do NOT
// return an error: the session is created with an immediate terminal Error
// snapshot so callers always have a final state to render.
func (m *Manager) Start(ctx context.Context, input JobInput) (*Session, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	jobID, err := m.submitter.Submit(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return m.Track(ctx, jobID)
}

// Track opens a session for an already-submitted job id. The subscription is
// opened with the session's own lifetime context, not the caller's: sessions
// outlive the request that started them and run until a terminal snapshot.
func (m *Manager) Track(ctx context.Context, jobID string) (*Session, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("track job: %w", err)
	}
	s := newSession(jobID, m.catalog, m.normalizer, m.cfg.QueueSize, m.cfg.OnUnknownStage, m.logger)

	m.mu.Lock()
	if _, exists := m.sessions[jobID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, jobID)
	}
	m.sessions[jobID] = s
	for _, l := range m.listeners {
		s.OnUpdate(l)
	}
	m.mu.Unlock()

	unsubscribe, err := m.source.Subscribe(s.lifeCtx, jobID, s.deliver)
	if err != nil {
		m.logger.Error("subscription failed", zap.String("job_id", jobID), zap.Error(err))
		s.abort(fmt.Sprintf("subscription failed: %v", err))
		return s, nil
	}
	s.start(unsubscribe)
	m.logger.Info("tracking job", zap.String("job_id", jobID))
	return s, nil
}

// Get returns the live session for a job id.
func (m *Manager) Get(jobID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jobID]
	return s, ok
}

// Cancel cancels the session for jobID. It reports whether a session was
// found; cancelling a terminal session is a no-op.
func (m *Manager) Cancel(jobID string) bool {
	s, ok := m.Get(jobID)
	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// PruneTerminal drops sessions that turned terminal more than maxAge ago and
// returns how many were removed. Their snapshots live on in the store.
func (m *Manager) PruneTerminal(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for jobID, s := range m.sessions {
		finished := s.FinishedAt()
		if finished.IsZero() || finished.After(cutoff) {
			continue
		}
		delete(m.sessions, jobID)
		removed++
	}
	return removed
}

// Shutdown cancels every live session and waits for each to reach its
// terminal snapshot or for the context to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("session shutdown wait: %w", ctx.Err())
		}
	}
	return nil
}
