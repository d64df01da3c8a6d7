package session

import (
	"context"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/gemini"
	"github.com/room4-2/ReminderRelay/realtime"
)

// Upstream is the realtime speech peer a session relays to. Send may be
// called from both relay goroutines; Receive only from the outbound one.
type Upstream interface {
	Send(event realtime.ClientEvent) error
	Receive() (*realtime.ServerEvent, error)
	Close() error
}

// UpstreamDialer opens one upstream connection per client session.
type UpstreamDialer func(ctx context.Context) (Upstream, error)

// NewUpstreamDialer returns the dialer for the configured provider.
func NewUpstreamDialer(cfg *config.Config) UpstreamDialer {
	if cfg.Provider == config.ProviderGemini {
		opts := gemini.Options{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Voice:  cfg.GeminiVoice,
		}
		return func(ctx context.Context) (Upstream, error) {
			proxy, err := gemini.NewProxy(ctx, opts)
			if err != nil {
				return nil, err
			}
			return proxy, nil
		}
	}

	dc := realtime.DialConfig{
		URL:    cfg.RealtimeURL,
		Model:  cfg.RealtimeModel,
		APIKey: cfg.OpenAIAPIKey,
	}
	return func(ctx context.Context) (Upstream, error) {
		conn, err := realtime.Dial(ctx, dc)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
