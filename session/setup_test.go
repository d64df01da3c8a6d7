package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/realtime"
)

func testSettings() Settings {
	return Settings{
		Voice: "alloy",
		TurnDetection: realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		GreetingText: config.DefaultGreetingText,
	}
}

func TestBuildInstructions(t *testing.T) {
	reminder := "Dentist appointment at 3pm"
	got := BuildInstructions(reminder)

	assert.Contains(t, got, reminder)
	assert.Contains(t, got, OpeningTurnRule)
	assert.NotContains(t, got, "%s")
}

func TestBuildInstructionsVerbatim(t *testing.T) {
	reminder := "Call \"Bob\" re: 50% discount {urgent}\nline two"
	assert.Contains(t, BuildInstructions(reminder), reminder)
}

func TestBuildInstructionsFallback(t *testing.T) {
	got := BuildInstructions("")

	assert.Equal(t, FallbackInstructions, got)
	assert.Contains(t, got, exampleReminder)
	assert.Contains(t, got, OpeningTurnRule)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Voice:                "verse",
		VADThreshold:         0.7,
		VADPrefixPaddingMs:   200,
		VADSilenceDurationMs: 800,
		GreetingText:         "Hi there",
	}

	s := SettingsFromConfig(cfg)
	assert.Equal(t, "verse", s.Voice)
	assert.Equal(t, "Hi there", s.GreetingText)
	assert.Equal(t, realtime.TurnDetection{
		Type:              "server_vad",
		Threshold:         0.7,
		PrefixPaddingMs:   200,
		SilenceDurationMs: 800,
	}, s.TurnDetection)
}

func TestInitializeSendsThreeEvents(t *testing.T) {
	up := newFakeUpstream()
	instructions := BuildInstructions("Dentist appointment at 3pm")

	require.NoError(t, Initialize(up, instructions, testSettings()))

	sent := up.sentEvents()
	require.Len(t, sent, 3)

	update, ok := sent[0].(realtime.SessionUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, realtime.TypeSessionUpdate, update.Type)
	assert.Equal(t, []string{"text", "audio"}, update.Session.Modalities)
	assert.Equal(t, instructions, update.Session.Instructions)
	assert.Equal(t, "alloy", update.Session.Voice)
	assert.Equal(t, "pcm16", update.Session.InputAudioFormat)
	assert.Equal(t, "pcm16", update.Session.OutputAudioFormat)
	require.NotNil(t, update.Session.TurnDetection)
	assert.Equal(t, 500, update.Session.TurnDetection.SilenceDurationMs)

	greeting, ok := sent[1].(realtime.ConversationItemCreateEvent)
	require.True(t, ok)
	assert.Equal(t, "user", greeting.Item.Role)
	require.Len(t, greeting.Item.Content, 1)
	assert.Equal(t, "input_text", greeting.Item.Content[0].Type)
	assert.Equal(t, config.DefaultGreetingText, greeting.Item.Content[0].Text)

	assert.Equal(t, realtime.TypeResponseCreate, sent[2].EventType())
}

func TestInitializeFailures(t *testing.T) {
	tests := []struct {
		failAt int
		want   string
	}{
		{failAt: 1, want: "failed to send session config"},
		{failAt: 2, want: "failed to send greeting trigger"},
		{failAt: 3, want: "failed to request initial response"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			boom := errors.New("boom")
			up := newFakeUpstream()
			up.sendErr = boom
			up.failAt = tt.failAt

			err := Initialize(up, FallbackInstructions, testSettings())
			require.ErrorIs(t, err, boom)
			assert.True(t, strings.HasPrefix(err.Error(), tt.want))
			assert.Len(t, up.sentEvents(), tt.failAt-1)
		})
	}
}
