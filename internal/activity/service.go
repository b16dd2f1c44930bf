package activity

import (
	"context"
	"sync"
	"time"

	"github.com/drover-io/drover/pkg/module"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event topics emitted by the activity service.
const (
	TopicSessionCreated = "activity.session.created"
	TopicStopped        = "activity.stopped"
)

// Service is the activity log. It is constructed explicitly and injected
// into its consumers; there is exactly one per process by convention, not
// by enforcement.
type Service struct {
	store   *Store
	bus     module.Publisher
	logger  *zap.Logger
	clock   func() time.Time
	metrics *Metrics

	mu           sync.Mutex
	running      bool
	startedAt    time.Time
	lastActivity time.Time
	openConns    int
}

// NewService creates a running activity service. A nil clock means
// time.Now; a nil metrics set disables instrumentation.
func NewService(store *Store, bus module.Publisher, logger *zap.Logger, clock func() time.Time, metrics *Metrics) *Service {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := clock()
	return &Service{
		store:        store,
		bus:          bus,
		logger:       logger,
		clock:        clock,
		metrics:      metrics,
		running:      true,
		startedAt:    now,
		lastActivity: now,
	}
}

// CreateSession opens a new session for a workflow run. Creating a
// session counts as activity.
func (s *Service) CreateSession(ctx context.Context, workflow string) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return Session{}, err
	}
	s.touch()
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(ctx, module.Event{
			Topic:     TopicSessionCreated,
			Source:    "activity",
			Timestamp: s.clock(),
			Payload:   sess.ID,
		})
	}
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("workflow", workflow),
	)
	return sess, nil
}

// Log records one entry. Writes are serialized, so entries of a session
// land in arrival order. Storage failures are logged and swallowed; a
// broken log must never fail the task that produced the entry.
func (s *Service) Log(ctx context.Context, sessionID, actorID, label, level, message string) {
	e := Entry{
		SessionID: sessionID,
		ActorID:   actorID,
		Label:     label,
		Level:     level,
		Message:   message,
		Timestamp: s.clock().UTC(),
	}

	s.mu.Lock()
	err := s.store.InsertEntry(ctx, e)
	if err == nil {
		s.lastActivity = s.clock()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("dropping activity entry",
			zap.String("session_id", sessionID),
			zap.String("actor_id", actorID),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.EntriesWritten.Inc()
	}
}

// Connect registers a client connection and returns its release function.
// The release is idempotent.
func (s *Service) Connect() func() {
	s.mu.Lock()
	s.openConns++
	s.lastActivity = s.clock()
	conns := s.openConns
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.OpenConnections.Set(float64(conns))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.openConns--
			s.lastActivity = s.clock()
			conns := s.openConns
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.OpenConnections.Set(float64(conns))
			}
		})
	}
}

// OpenConnections returns the number of unreleased connections.
func (s *Service) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openConns
}

// LastActivity returns the time of the most recent session creation, log
// write, or connection change.
func (s *Service) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock().Sub(s.startedAt)
}

// Running reports whether the service has not been stopped.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop shuts the service down. Calling Stop on a stopped service is a
// no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(context.Background(), module.Event{
			Topic:     TopicStopped,
			Source:    "activity",
			Timestamp: s.clock(),
		})
	}
	s.logger.Info("activity service stopped")
}

// EntriesBySession exposes the stored entries of one session.
func (s *Service) EntriesBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return s.store.EntriesBySession(ctx, sessionID)
}

// DistinctActors exposes the unique actors of one session.
func (s *Service) DistinctActors(ctx context.Context, sessionID string) ([]string, error) {
	return s.store.DistinctActors(ctx, sessionID)
}

// SessionByID exposes one stored session.
func (s *Service) SessionByID(ctx context.Context, id string) (Session, error) {
	return s.store.SessionByID(ctx, id)
}

func (s *Service) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock()
	s.mu.Unlock()
}
