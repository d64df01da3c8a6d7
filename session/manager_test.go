package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/ReminderRelay/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Provider:          config.ProviderOpenAI,
		Voice:             "alloy",
		VADThreshold:      0.3,
		GreetingText:      config.DefaultGreetingText,
		InterruptOnSpeech: true,
		AllowClientCancel: true,
		WriteTimeout:      time.Second,
	}
}

func fakeDialer(ups *[]*fakeUpstream) UpstreamDialer {
	return func(ctx context.Context) (Upstream, error) {
		up := newFakeUpstream()
		*ups = append(*ups, up)
		return up, nil
	}
}

func TestManagerCreateAndRemove(t *testing.T) {
	var ups []*fakeUpstream
	sm := NewManager(testConfig(), fakeDialer(&ups), nullLogger(), nil)

	cs, err := sm.CreateSession(context.Background(), newFakeClient(), "Dentist appointment at 3pm")
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.NotEmpty(t, cs.ID)
	assert.Equal(t, "Dentist appointment at 3pm", cs.Reminder)
	assert.Equal(t, 1, sm.GetActiveSessionCount())

	got, ok := sm.GetSession(cs.ID)
	require.True(t, ok)
	assert.Same(t, cs, got)

	require.NoError(t, sm.RemoveSession(context.Background(), cs.ID))
	assert.Equal(t, 0, sm.GetActiveSessionCount())
	assert.True(t, cs.IsClosed())
	assert.True(t, ups[0].isClosed())

	// unknown ids are fine
	require.NoError(t, sm.RemoveSession(context.Background(), cs.ID))
}

func TestManagerSessionIDsAreUnique(t *testing.T) {
	var ups []*fakeUpstream
	sm := NewManager(testConfig(), fakeDialer(&ups), nullLogger(), nil)

	a, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)
	b, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a.Upstream, b.Upstream)
	assert.Equal(t, 2, sm.GetActiveSessionCount())
}

func TestManagerDialFailure(t *testing.T) {
	dial := func(ctx context.Context) (Upstream, error) {
		return nil, errors.New("HTTP 401")
	}
	sm := NewManager(testConfig(), dial, nullLogger(), nil)

	_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect upstream")
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, 0, sm.GetActiveSessionCount())
}

func TestManagerMaxSessions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1

	var ups []*fakeUpstream
	sm := NewManager(cfg, fakeDialer(&ups), nullLogger(), nil)

	_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)

	_, err = sm.CreateSession(context.Background(), newFakeClient(), "")
	assert.ErrorIs(t, err, ErrMaxSessions)
	assert.Len(t, ups, 1)
}

func TestManagerCleanupInactiveSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = time.Minute

	var ups []*fakeUpstream
	sm := NewManager(cfg, fakeDialer(&ups), nullLogger(), nil)

	idle, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)
	active, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)

	idle.mu.Lock()
	idle.lastActivity = time.Now().Add(-2 * time.Minute)
	idle.mu.Unlock()

	sm.CleanupInactiveSessions(context.Background())

	assert.True(t, idle.IsClosed())
	assert.False(t, active.IsClosed())
	assert.Equal(t, 1, sm.GetActiveSessionCount())
}

func TestManagerCleanupDisabled(t *testing.T) {
	var ups []*fakeUpstream
	sm := NewManager(testConfig(), fakeDialer(&ups), nullLogger(), nil)

	cs, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)
	cs.mu.Lock()
	cs.lastActivity = time.Now().Add(-24 * time.Hour)
	cs.mu.Unlock()

	sm.CleanupInactiveSessions(context.Background())
	assert.False(t, cs.IsClosed())

	// returns at once instead of ticking forever
	sm.StartCleanupRoutine(context.Background())
}

func TestManagerShutdown(t *testing.T) {
	var ups []*fakeUpstream
	sm := NewManager(testConfig(), fakeDialer(&ups), nullLogger(), nil)

	for i := 0; i < 3; i++ {
		_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
		require.NoError(t, err)
	}

	sm.Shutdown()

	assert.Equal(t, 0, sm.GetActiveSessionCount())
	for _, up := range ups {
		assert.True(t, up.isClosed())
	}
}

func TestManagerMaxSessionsConcurrentConnects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1

	release := make(chan struct{})
	var dials sync.WaitGroup
	dial := func(ctx context.Context) (Upstream, error) {
		dials.Done()
		<-release
		return newFakeUpstream(), nil
	}
	sm := NewManager(cfg, dial, nullLogger(), nil)

	const clients = 5
	results := make(chan error, clients)

	// the first connect holds its slot while dialing
	dials.Add(1)
	go func() {
		_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
		results <- err
	}()
	dials.Wait()

	for i := 1; i < clients; i++ {
		go func() {
			_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
			results <- err
		}()
	}
	for i := 1; i < clients; i++ {
		assert.ErrorIs(t, <-results, ErrMaxSessions)
	}

	close(release)
	require.NoError(t, <-results)
	assert.Equal(t, 1, sm.GetActiveSessionCount())
}

func TestManagerDialFailureReleasesSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1

	fail := true
	dial := func(ctx context.Context) (Upstream, error) {
		if fail {
			return nil, errors.New("HTTP 503")
		}
		return newFakeUpstream(), nil
	}
	sm := NewManager(cfg, dial, nullLogger(), nil)

	_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
	require.Error(t, err)

	fail = false
	_, err = sm.CreateSession(context.Background(), newFakeClient(), "")
	require.NoError(t, err)
}

// returnsWithin fails the test if fn is still running after waitFor.
func returnsWithin(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("call blocked")
	}
}

func TestManagerClosesOutsideLock(t *testing.T) {
	tests := []struct {
		name  string
		close func(sm *Manager, id string)
	}{
		{
			name:  "remove",
			close: func(sm *Manager, id string) { _ = sm.RemoveSession(context.Background(), id) },
		},
		{
			name:  "shutdown",
			close: func(sm *Manager, id string) { sm.Shutdown() },
		},
		{
			name: "idle cleanup",
			close: func(sm *Manager, id string) {
				cs, _ := sm.GetSession(id)
				cs.mu.Lock()
				cs.lastActivity = time.Now().Add(-time.Hour)
				cs.mu.Unlock()
				sm.CleanupInactiveSessions(context.Background())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SessionTimeout = time.Minute

			var ups []*fakeUpstream
			sm := NewManager(cfg, fakeDialer(&ups), nullLogger(), nil)

			stuck := newFakeClient()
			stuck.controlGate = make(chan struct{})
			cs, err := sm.CreateSession(context.Background(), stuck, "")
			require.NoError(t, err)

			closing := make(chan struct{})
			go func() {
				tt.close(sm, cs.ID)
				close(closing)
			}()

			// a peer that never acknowledges the close frame must not stall the registry
			assert.Eventually(t, func() bool { return cs.IsClosed() }, waitFor, 5*time.Millisecond)
			returnsWithin(t, func() {
				assert.Equal(t, 0, sm.GetActiveSessionCount())
			})
			returnsWithin(t, func() {
				_, err := sm.CreateSession(context.Background(), newFakeClient(), "")
				assert.NoError(t, err)
			})

			close(stuck.controlGate)
			<-closing
		})
	}
}
