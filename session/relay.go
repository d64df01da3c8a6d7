package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/ReminderRelay/messages"
	"github.com/room4-2/ReminderRelay/realtime"
	"github.com/room4-2/ReminderRelay/telemetry"
)

// ErrInvalidClientMessage is returned for client frames that are not JSON messages.
var ErrInvalidClientMessage = errors.New("invalid client message")

// IsPeerClosed reports whether err means one side of the relay went away,
// as opposed to a protocol or decode failure.
func IsPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, realtime.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

// inboundRelay turns client messages into upstream commands.
type inboundRelay struct {
	upstream    Upstream
	allowCancel bool
	log         logrus.FieldLogger
	metrics     *telemetry.Metrics
}

func (r *inboundRelay) handle(ctx context.Context, data []byte) error {
	var msg messages.ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClientMessage, err)
	}

	switch msg.Type {
	case messages.TypeAudio:
		return r.send(ctx, realtime.NewAudioAppend(msg.Audio))

	case messages.TypeCommit:
		// commit and response.create always travel together
		if err := r.send(ctx, realtime.NewAudioCommit()); err != nil {
			return err
		}
		return r.send(ctx, realtime.NewResponseCreate())

	case messages.TypeCancel:
		if !r.allowCancel {
			r.log.Debug("client cancel disabled, ignoring")
			return nil
		}
		if err := r.send(ctx, realtime.NewResponseCancel()); err != nil {
			return err
		}
		r.metrics.ResponseCancelled(ctx, "client")

	default:
		r.log.WithField("type", msg.Type).Debug("ignoring client message")
	}
	return nil
}

func (r *inboundRelay) send(ctx context.Context, event realtime.ClientEvent) error {
	if err := r.upstream.Send(event); err != nil {
		return err
	}
	r.metrics.FrameRelayed(ctx, telemetry.DirectionInbound, event.EventType())
	return nil
}

// outboundRelay turns upstream events into client messages and owns the
// response-in-progress flag. It is driven by a single goroutine.
type outboundRelay struct {
	upstream          Upstream
	emit              func(*messages.ServerMessage) error
	interruptOnSpeech bool
	log               logrus.FieldLogger
	metrics           *telemetry.Metrics

	responseInProgress bool
}

func (r *outboundRelay) handle(ctx context.Context, ev *realtime.ServerEvent) error {
	switch ev.Type {
	case realtime.TypeResponseCreated:
		r.responseInProgress = true

	case realtime.TypeResponseAudioDelta:
		r.responseInProgress = true
		return r.emit(messages.NewAudioMessage(ev.Delta))

	case realtime.TypeTranscriptDelta:
		return r.emit(messages.NewTranscriptMessage(ev.Delta))

	case realtime.TypeResponseDone:
		r.responseInProgress = false
		return r.emit(messages.NewResponseDoneMessage())

	case realtime.TypeResponseCancelled:
		r.responseInProgress = false

	case realtime.TypeSpeechStarted:
		if r.interruptOnSpeech && r.responseInProgress {
			// stop the assistant talking over the user
			if err := r.upstream.Send(realtime.NewResponseCancel()); err != nil {
				return err
			}
			r.metrics.ResponseCancelled(ctx, "interruption")
			r.log.Debug("user started speaking, cancelled active response")
		}
		return r.emit(messages.NewSpeechStartedMessage())

	case realtime.TypeSpeechStopped:
		return r.emit(messages.NewSpeechStoppedMessage())

	case realtime.TypeError:
		r.log.WithField("error", string(ev.Error)).Warn("upstream reported an error")
		return r.emit(messages.NewErrorMessage(ev.Error))
	}
	return nil
}
