package session

import (
	"fmt"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/realtime"
)

const audioFormatPCM16 = "pcm16"

// Settings is the per-connection upstream session configuration, minus the
// instructions which depend on the reminder.
type Settings struct {
	Voice         string
	TurnDetection realtime.TurnDetection
	GreetingText  string
}

// SettingsFromConfig maps process configuration to session settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Voice: cfg.Voice,
		TurnDetection: realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMs:   cfg.VADPrefixPaddingMs,
			SilenceDurationMs: cfg.VADSilenceDurationMs,
		},
		GreetingText: cfg.GreetingText,
	}
}

// SessionUpdate builds the session.update event for the given instructions.
func (s Settings) SessionUpdate(instructions string) realtime.SessionUpdateEvent {
	td := s.TurnDetection
	return realtime.NewSessionUpdate(realtime.Session{
		Modalities:        []string{"text", "audio"},
		Instructions:      instructions,
		Voice:             s.Voice,
		InputAudioFormat:  audioFormatPCM16,
		OutputAudioFormat: audioFormatPCM16,
		TurnDetection:     &td,
	})
}

// Initialize configures the upstream session and asks for the opening
// greeting: session.update, a synthetic user turn, then response.create.
// Nothing waits for upstream acknowledgement.
func Initialize(up Upstream, instructions string, s Settings) error {
	if err := up.Send(s.SessionUpdate(instructions)); err != nil {
		return fmt.Errorf("failed to send session config: %w", err)
	}
	if err := up.Send(realtime.NewUserText(s.GreetingText)); err != nil {
		return fmt.Errorf("failed to send greeting trigger: %w", err)
	}
	if err := up.Send(realtime.NewResponseCreate()); err != nil {
		return fmt.Errorf("failed to request initial response: %w", err)
	}
	return nil
}
