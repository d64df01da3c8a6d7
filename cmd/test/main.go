package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/ReminderRelay/messages"
)

// 100ms of 24kHz mono PCM16
const chunkSize = 4800

var log = logrus.New()

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() (*AudioPlayer, error) {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", "24000",
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sox start: %w", err)
	}

	return &AudioPlayer{cmd: cmd, stdin: stdin}, nil
}

func (p *AudioPlayer) Play(audioData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_, _ = p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.stdin.Close()
	_ = p.cmd.Wait()
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8000/ws/voice", "Relay WebSocket URL")
	reminder := flag.String("reminder", "Dentist appointment Friday 10am", "Reminder text for the session")
	audioFile := flag.String("file", "", "Audio file to send after the greeting (24kHz PCM16 or WAV)")
	wait := flag.Duration("wait", 30*time.Second, "How long to wait for responses")
	flag.Parse()

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.WithError(err).Fatal("Invalid server URL")
	}
	q := u.Query()
	q.Set("reminder", *reminder)
	u.RawQuery = q.Encode()

	log.WithField("url", u.String()).Info("Connecting")
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect")
	}
	defer conn.Close()

	player, err := NewAudioPlayer()
	if err != nil {
		log.WithError(err).Fatal("Failed to create audio player (is sox installed?)")
	}
	defer player.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	turns := make(chan struct{}, 8)

	// Read responses from server
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.WithError(err).Info("Connection closed")
				return
			}

			var msg messages.ServerMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				log.WithError(err).Warn("Parse error")
				continue
			}

			switch msg.Type {
			case messages.TypeAudio:
				audio, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					log.WithError(err).Warn("Bad audio payload")
					continue
				}
				player.Play(audio)
			case messages.TypeTranscript:
				fmt.Print(msg.Text)
			case messages.TypeResponseDone:
				fmt.Println()
				log.Info("--- Response done ---")
				notifyTurn(turns)
			case messages.TypeSpeechStarted, messages.TypeSpeechStopped:
				log.Info(msg.Type)
			case messages.TypeError:
				log.WithField("error", string(msg.Error)).Error("Upstream error")
			}
		}
	}()

	if *audioFile != "" {
		// Let the greeting finish before speaking
		select {
		case <-turns:
		case <-done:
			return
		case <-time.After(*wait):
			log.Warn("No greeting received, sending audio anyway")
		}

		if err := sendAudio(conn, *audioFile); err != nil {
			log.WithError(err).Error("Failed to send audio")
			return
		}
	}

	select {
	case <-done:
	case <-interrupt:
		log.Info("Interrupted, closing")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*wait):
		log.Info("Done waiting")
	}
}

// sendAudio streams the file at real-time pace, then commits the turn.
func sendAudio(conn *websocket.Conn, path string) error {
	audioData, err := loadAudioFile(path)
	if err != nil {
		return err
	}

	total := (len(audioData) + chunkSize - 1) / chunkSize
	for i := 0; i < len(audioData); i += chunkSize {
		end := min(i+chunkSize, len(audioData))

		if err := writeJSON(conn, messages.ClientMessage{
			Type:  messages.TypeAudio,
			Audio: base64.StdEncoding.EncodeToString(audioData[i:end]),
		}); err != nil {
			return err
		}
		log.Debugf("Sent chunk %d/%d", i/chunkSize+1, total)

		time.Sleep(100 * time.Millisecond)
	}

	log.Info("Audio sent, committing")
	return writeJSON(conn, messages.ClientMessage{Type: messages.TypeCommit})
}

func writeJSON(conn *websocket.Conn, msg messages.ClientMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// notifyTurn records a finished response without ever blocking the reader.
// Only the first turn is waited on, later ones can be dropped.
func notifyTurn(turns chan<- struct{}) {
	select {
	case turns <- struct{}{}:
	default:
	}
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Skip the standard 44 byte WAV header
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		log.Info("Detected WAV file, skipping header")
		return data[44:], nil
	}
	return data, nil
}
