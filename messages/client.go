package messages

// Client message types
const (
	TypeCommit = "commit"
	TypeCancel = "cancel"
)

// ClientMessage represents a message from the browser client.
// Audio is base64-encoded PCM16 and is forwarded without decoding.
type ClientMessage struct {
	Type  string `json:"type"` // "audio", "commit", "cancel"
	Audio string `json:"audio,omitempty"`
}
