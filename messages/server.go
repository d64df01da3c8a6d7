package messages

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Message types
const (
	TypeAudio         = "audio"
	TypeTranscript    = "transcript"
	TypeResponseDone  = "response_done"
	TypeSpeechStarted = "speech_started"
	TypeSpeechStopped = "speech_stopped"
	TypeError         = "error"
)

var emptyError = json.RawMessage(`{}`)

// ServerMessage represents a message sent to the browser client.
// Each type is encoded with its own payload key, present even when empty.
type ServerMessage struct {
	Type  string          `json:"type"`
	Audio string          `json:"audio"`
	Text  string          `json:"text"`
	Error json.RawMessage `json:"error"`
}

type audioPayload struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type transcriptPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type errorPayload struct {
	Type  string          `json:"type"`
	Error json.RawMessage `json:"error"`
}

type bare struct {
	Type string `json:"type"`
}

// MarshalJSON writes only the fields that belong to the message type.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeAudio:
		return sonic.Marshal(audioPayload{Type: m.Type, Audio: m.Audio})
	case TypeTranscript:
		return sonic.Marshal(transcriptPayload{Type: m.Type, Text: m.Text})
	case TypeError:
		payload := m.Error
		if len(payload) == 0 || string(payload) == "null" {
			payload = emptyError
		}
		return sonic.Marshal(errorPayload{Type: m.Type, Error: payload})
	}
	return sonic.Marshal(bare{Type: m.Type})
}

// NewAudioMessage creates an audio chunk message (base64 PCM16)
func NewAudioMessage(audio string) *ServerMessage {
	return &ServerMessage{Type: TypeAudio, Audio: audio}
}

// NewTranscriptMessage creates a transcript delta message
func NewTranscriptMessage(text string) *ServerMessage {
	return &ServerMessage{Type: TypeTranscript, Text: text}
}

func NewResponseDoneMessage() *ServerMessage {
	return &ServerMessage{Type: TypeResponseDone}
}

func NewSpeechStartedMessage() *ServerMessage {
	return &ServerMessage{Type: TypeSpeechStarted}
}

func NewSpeechStoppedMessage() *ServerMessage {
	return &ServerMessage{Type: TypeSpeechStopped}
}

// NewErrorMessage forwards an upstream error object verbatim, or {} when the
// upstream event carried none.
func NewErrorMessage(payload json.RawMessage) *ServerMessage {
	if len(payload) == 0 || string(payload) == "null" {
		payload = emptyError
	}
	return &ServerMessage{Type: TypeError, Error: payload}
}
