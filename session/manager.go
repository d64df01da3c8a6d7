package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/telemetry"
)

// ErrMaxSessions is returned when MaxSessions is set and reached.
var ErrMaxSessions = errors.New("maximum sessions reached")

const activeSessionsKey = "active_sessions"

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	dialing  int // slots reserved by connects still dialing
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dial     UpstreamDialer
	opts     Options
	log      logrus.FieldLogger
	metrics  *telemetry.Metrics
}

// NewManager creates a session manager. When REDIS_URL is set, session
// presence is mirrored to Redis; an unreachable Redis is logged and ignored.
func NewManager(cfg *config.Config, dial UpstreamDialer, log logrus.FieldLogger, metrics *telemetry.Metrics) *Manager {
	var redisClient *redis.Client

	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable, continuing without session presence")
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		dial:     dial,
		opts: Options{
			Settings:          SettingsFromConfig(cfg),
			InterruptOnSpeech: cfg.InterruptOnSpeech,
			AllowClientCancel: cfg.AllowClientCancel,
			WriteTimeout:      cfg.WriteTimeout,
		},
		log:     log,
		metrics: metrics,
	}
}

// CreateSession dials the upstream for a freshly accepted client connection.
// A dial failure is returned as is; nothing is retried.
func (sm *Manager) CreateSession(ctx context.Context, clientConn WSConn, reminder string) (*ClientSession, error) {
	if !sm.reserve() {
		return nil, ErrMaxSessions
	}

	up, err := sm.dial(ctx)
	if err != nil {
		sm.mu.Lock()
		sm.dialing--
		sm.mu.Unlock()

		sm.metrics.UpstreamFailed(ctx, sm.config.Provider)
		return nil, fmt.Errorf("failed to connect upstream: %w", err)
	}

	sessionID := uuid.New().String()
	session := NewClientSession(ctx, sessionID, clientConn, up, reminder, sm.opts, sm.log, sm.metrics)

	sm.mu.Lock()
	sm.dialing--
	sm.storeSession(ctx, sessionID, session)
	sm.mu.Unlock()

	sm.metrics.SessionStarted(ctx)
	return session, nil
}

// reserve takes a session slot before dialing so concurrent connects cannot
// overshoot MaxSessions.
func (sm *Manager) reserve() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if limit := sm.config.MaxSessions; limit > 0 && len(sm.sessions)+sm.dialing >= limit {
		return false
	}
	sm.dialing++
	return true
}

// storeSession saves a session to memory and Redis. Caller holds sm.mu.
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		key := "session:" + sessionID
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"provider":      sm.config.Provider,
		})
		pipe.SAdd(ctx, activeSessionsKey, sessionID)
		if sm.config.SessionTimeout > 0 {
			pipe.Expire(ctx, key, sm.config.SessionTimeout)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			sm.log.WithError(err).Warn("Failed to record session in Redis")
		}
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession forgets a session and closes it. Sockets are closed after
// the lock is released.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		sm.forget(ctx, sessionID)
	}
	sm.mu.Unlock()

	if !exists {
		return nil
	}
	return session.Close()
}

// forget drops a session from memory and Redis. Caller holds sm.mu.
func (sm *Manager) forget(ctx context.Context, sessionID string) {
	delete(sm.sessions, sessionID)
	sm.metrics.SessionEnded(ctx)

	if sm.redis != nil {
		pipe := sm.redis.TxPipeline()
		pipe.Del(ctx, "session:"+sessionID)
		pipe.SRem(ctx, activeSessionsKey, sessionID)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.log.WithError(err).Warn("Failed to remove session from Redis")
		}
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes sessions idle for longer than SessionTimeout.
// It does nothing when SessionTimeout is zero.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	if sm.config.SessionTimeout <= 0 {
		return
	}

	var idle []*ClientSession

	sm.mu.Lock()
	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			sm.log.WithField("session", shortID(id)).Info("Closing idle session")
			idle = append(idle, session)
			sm.forget(ctx, id)
		}
	}
	sm.mu.Unlock()

	for _, session := range idle {
		session.Close()
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	if sm.config.SessionTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	var open []*ClientSession

	sm.mu.Lock()
	ctx := context.Background()
	for id, session := range sm.sessions {
		open = append(open, session)
		sm.forget(ctx, id)
	}
	if sm.redis != nil {
		sm.redis.Close()
		sm.redis = nil
	}
	sm.mu.Unlock()

	for _, session := range open {
		session.Close()
	}
}
