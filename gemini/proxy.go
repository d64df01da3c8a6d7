package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/room4-2/ReminderRelay/realtime"
)

const (
	defaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	defaultVoice = "Zephyr" // Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr

	// Browser audio is 24kHz PCM16, the same rate Gemini answers with.
	inputMIMEType = "audio/pcm;rate=24000"
)

// ErrNotConnected is returned before session.update has opened the Live session.
var ErrNotConnected = errors.New("gemini live session not connected")

// liveSession is the part of *genai.Session the proxy drives.
type liveSession interface {
	SendClientContent(input genai.LiveSendClientContentParameters) error
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, config *genai.LiveConnectConfig) (liveSession, error)

// Options selects the Gemini model and voice.
type Options struct {
	APIKey string
	Model  string
	Voice  string
}

// Proxy exposes a Gemini Live session through the realtime event vocabulary,
// so the relay can drive it exactly like the default upstream.
//
// The Live API takes its configuration at connect time, so the connection is
// opened by the session.update event rather than by NewProxy.
type Proxy struct {
	ctx     context.Context
	connect connectFunc
	model   string
	voice   string

	mu      sync.RWMutex
	session liveSession
	closed  bool
	turns   []*genai.Content

	// Receive side, owned by the single Receive caller
	pending    []*realtime.ServerEvent
	responding bool
}

// NewProxy creates the GenAI client. The Live session opens on session.update.
func NewProxy(ctx context.Context, opts Options) (*Proxy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	connect := func(ctx context.Context, model string, config *genai.LiveConnectConfig) (liveSession, error) {
		session, err := client.Live.Connect(ctx, model, config)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return newProxy(ctx, connect, opts), nil
}

func newProxy(ctx context.Context, connect connectFunc, opts Options) *Proxy {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	voice := opts.Voice
	if voice == "" {
		voice = defaultVoice
	}
	return &Proxy{
		ctx:     ctx,
		connect: connect,
		model:   model,
		voice:   voice,
	}
}

// Send translates one realtime client event into Live API calls.
func (gp *Proxy) Send(event realtime.ClientEvent) error {
	switch ev := event.(type) {
	case realtime.SessionUpdateEvent:
		return gp.setup(ev.Session)

	case realtime.ConversationItemCreateEvent:
		return gp.queueTurn(ev.Item)

	case realtime.InputAudioAppendEvent:
		data, err := base64.StdEncoding.DecodeString(ev.Audio)
		if err != nil {
			return fmt.Errorf("invalid base64 audio: %w", err)
		}
		return gp.sendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{
				MIMEType: inputMIMEType,
				Data:     data,
			},
		})
	}

	switch event.EventType() {
	case realtime.TypeInputAudioCommit:
		// Signal to Gemini that the audio stream has ended
		return gp.sendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
	case realtime.TypeResponseCreate:
		return gp.flushTurns()
	case realtime.TypeResponseCancel:
		// Gemini stops generating by itself once it hears the user
		return nil
	}
	return fmt.Errorf("unsupported event for gemini upstream: %s", event.EventType())
}

// setup establishes the Live session from a session.update
func (gp *Proxy) setup(s realtime.Session) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return realtime.ErrClosed
	}
	if gp.session != nil {
		return fmt.Errorf("gemini live session already configured")
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: s.Instructions},
			},
		},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: gp.voice,
				},
			},
		},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	session, err := gp.connect(gp.ctx, gp.model, config)
	if err != nil {
		return fmt.Errorf("failed to connect to Live API: %w", err)
	}
	gp.session = session
	return nil
}

func (gp *Proxy) queueTurn(item realtime.ConversationItem) error {
	content := &genai.Content{Role: item.Role}
	for _, part := range item.Content {
		if part.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()
	if gp.closed {
		return realtime.ErrClosed
	}
	gp.turns = append(gp.turns, content)
	return nil
}

// flushTurns sends queued text turns as one completed client turn. After an
// audio commit there is nothing queued and Gemini already answers on its own.
func (gp *Proxy) flushTurns() error {
	gp.mu.Lock()
	turns := gp.turns
	gp.turns = nil
	gp.mu.Unlock()

	if len(turns) == 0 {
		return nil
	}

	session, err := gp.current()
	if err != nil {
		return err
	}

	turnComplete := true
	err = session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns:        turns,
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

func (gp *Proxy) sendRealtimeInput(input genai.LiveRealtimeInput) error {
	session, err := gp.current()
	if err != nil {
		return err
	}
	if err := session.SendRealtimeInput(input); err != nil {
		return fmt.Errorf("failed to send realtime input: %w", err)
	}
	return nil
}

func (gp *Proxy) current() (liveSession, error) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if gp.closed {
		return nil, realtime.ErrClosed
	}
	if gp.session == nil {
		return nil, ErrNotConnected
	}
	return gp.session, nil
}

// Receive returns the next translated event, reading from Gemini as needed.
func (gp *Proxy) Receive() (*realtime.ServerEvent, error) {
	for len(gp.pending) == 0 {
		session, err := gp.current()
		if err != nil {
			return nil, err
		}

		// Receive blocks until a message arrives or error occurs
		resp, err := session.Receive()
		if err != nil {
			if gp.isClosed() {
				return nil, realtime.ErrClosed
			}
			return nil, fmt.Errorf("gemini receive failed: %w", err)
		}
		gp.pending = append(gp.pending, gp.translate(resp)...)
	}

	ev := gp.pending[0]
	gp.pending = gp.pending[1:]
	return ev, nil
}

func (gp *Proxy) isClosed() bool {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return gp.closed
}

// Close terminates the Gemini connection
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true
	gp.turns = nil

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
