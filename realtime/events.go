// Package realtime speaks the vendor realtime speech event protocol over a
// WebSocket connection.
package realtime

import "encoding/json"

// Client events (sent upstream)
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeInputAudioCommit       = "input_audio_buffer.commit"
)

// Server events (received from upstream)
const (
	TypeSessionCreated      = "session.created"
	TypeSessionUpdated      = "session.updated"
	TypeResponseCreated     = "response.created"
	TypeResponseAudioDelta  = "response.audio.delta"
	TypeResponseAudioDone   = "response.audio.done"
	TypeTranscriptDelta     = "response.audio_transcript.delta"
	TypeTranscriptDone      = "response.audio_transcript.done"
	TypeResponseDone        = "response.done"
	TypeResponseCancelled   = "response.cancelled"
	TypeSpeechStarted       = "input_audio_buffer.speech_started"
	TypeSpeechStopped       = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted = "input_audio_buffer.committed"
	TypeError               = "error"
)

// ClientEvent is anything the relay can send upstream.
type ClientEvent interface {
	EventType() string
}

// Event is a client event without a body.
type Event struct {
	Type string `json:"type"`
}

func (e Event) EventType() string { return e.Type }

// TurnDetection holds the VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type Session struct {
	Modalities        []string       `json:"modalities"`
	Instructions      string         `json:"instructions"`
	Voice             string         `json:"voice"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
}

type SessionUpdateEvent struct {
	Type    string  `json:"type"`
	Session Session `json:"session"`
}

func (e SessionUpdateEvent) EventType() string { return TypeSessionUpdate }

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ConversationItem is the inner "item" object.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ConversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

func (e ConversationItemCreateEvent) EventType() string { return TypeConversationItemCreate }

type InputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func (e InputAudioAppendEvent) EventType() string { return TypeInputAudioAppend }

// NewSessionUpdate wraps a session configuration in a session.update event.
func NewSessionUpdate(s Session) SessionUpdateEvent {
	return SessionUpdateEvent{Type: TypeSessionUpdate, Session: s}
}

// NewUserText builds a conversation.item.create carrying one user text turn.
func NewUserText(text string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// NewAudioAppend forwards an already base64-encoded PCM chunk.
func NewAudioAppend(audio string) InputAudioAppendEvent {
	return InputAudioAppendEvent{Type: TypeInputAudioAppend, Audio: audio}
}

func NewAudioCommit() Event    { return Event{Type: TypeInputAudioCommit} }
func NewResponseCreate() Event { return Event{Type: TypeResponseCreate} }
func NewResponseCancel() Event { return Event{Type: TypeResponseCancel} }

// ServerEvent is the subset of upstream event fields the relay reads.
// Error stays raw so it can be forwarded to the client untouched.
type ServerEvent struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}
