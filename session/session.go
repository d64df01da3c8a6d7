package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/room4-2/ReminderRelay/messages"
	"github.com/room4-2/ReminderRelay/telemetry"
)

// ErrSessionClosed is returned when queueing on a session that has closed.
var ErrSessionClosed = errors.New("session closed")

const (
	writeBufferSize = 256
	closeTimeout    = time.Second

	// drainTimeout bounds the final flush when WriteTimeout is unset
	drainTimeout = 10 * time.Second
)

var tracer = otel.Tracer("github.com/room4-2/ReminderRelay/session")

// WSConn is the browser side of a session. *websocket.Conn satisfies it.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Options controls relay behaviour for every session of a manager.
type Options struct {
	Settings          Settings
	InterruptOnSpeech bool
	AllowClientCancel bool
	WriteTimeout      time.Duration
}

// ClientSession relays one browser connection to one upstream connection.
type ClientSession struct {
	ID         string
	Reminder   string
	ClientConn WSConn
	Upstream   Upstream
	CreatedAt  time.Time

	opts    Options
	log     logrus.FieldLogger
	metrics *telemetry.Metrics
	span    trace.Span

	// Outbound messages are written by writePump only, in queue order
	writeChan chan *messages.ServerMessage
	drain     chan struct{}
	drainOnce sync.Once

	mu           sync.RWMutex
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
	wg           sync.WaitGroup
}

// NewClientSession wires a client connection to an already dialed upstream.
func NewClientSession(ctx context.Context, id string, clientConn WSConn, up Upstream, reminder string, opts Options, log logrus.FieldLogger, metrics *telemetry.Metrics) *ClientSession {
	_, span := tracer.Start(ctx, "relay.session",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.Int("reminder.length", len(reminder)),
		),
	)

	now := time.Now()
	return &ClientSession{
		ID:           id,
		Reminder:     reminder,
		ClientConn:   clientConn,
		Upstream:     up,
		CreatedAt:    now,
		opts:         opts,
		log:          log.WithField("session", shortID(id)),
		metrics:      metrics,
		span:         span,
		writeChan:    make(chan *messages.ServerMessage, writeBufferSize),
		drain:        make(chan struct{}),
		lastActivity: now,
		CloseChan:    make(chan struct{}),
	}
}

// Start configures the upstream session, then runs both relay directions
// and the client write pump. An initialization error leaves the session
// unstarted; the caller closes it.
func (cs *ClientSession) Start(ctx context.Context) error {
	if err := Initialize(cs.Upstream, BuildInstructions(cs.Reminder), cs.opts.Settings); err != nil {
		cs.span.RecordError(err)
		cs.span.SetStatus(codes.Error, "initialize failed")
		return err
	}

	cs.wg.Add(3)
	go cs.writePump(ctx)
	go cs.runInbound(ctx)
	go cs.runOutbound(ctx)
	return nil
}

// Wait blocks until every goroutine started by Start has returned.
func (cs *ClientSession) Wait() {
	cs.wg.Wait()
}

func (cs *ClientSession) runInbound(ctx context.Context) {
	defer cs.wg.Done()

	relay := &inboundRelay{
		upstream:    cs.Upstream,
		allowCancel: cs.opts.AllowClientCancel,
		log:         cs.log,
		metrics:     cs.metrics,
	}
	cs.finish("inbound", cs.relayClientToUpstream(ctx, relay))
}

func (cs *ClientSession) relayClientToUpstream(ctx context.Context, relay *inboundRelay) error {
	for {
		_, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if IsPeerClosed(err) {
				return nil
			}
			return fmt.Errorf("client read failed: %w", err)
		}
		cs.touch()

		if err := relay.handle(ctx, data); err != nil {
			return err
		}
	}
}

func (cs *ClientSession) runOutbound(ctx context.Context) {
	defer cs.wg.Done()

	relay := &outboundRelay{
		upstream:          cs.Upstream,
		emit:              cs.queueMessage,
		interruptOnSpeech: cs.opts.InterruptOnSpeech,
		log:               cs.log,
		metrics:           cs.metrics,
	}
	err := cs.relayUpstreamToClient(ctx, relay)
	cs.logEnd("outbound", err)

	// The outbound relay is the only producer, so the queue is final now.
	// writePump flushes it and closes the session.
	cs.drainOnce.Do(func() { close(cs.drain) })
}

func (cs *ClientSession) relayUpstreamToClient(ctx context.Context, relay *outboundRelay) error {
	for {
		ev, err := cs.Upstream.Receive()
		if err != nil {
			if IsPeerClosed(err) {
				return nil
			}
			return fmt.Errorf("upstream receive failed: %w", err)
		}
		cs.touch()

		if err := relay.handle(ctx, ev); err != nil {
			return err
		}
	}
}

// finish logs why one relay goroutine ended and closes the session, which
// unblocks the sibling's pending read.
func (cs *ClientSession) finish(relay string, err error) {
	cs.logEnd(relay, err)
	cs.Close()
}

func (cs *ClientSession) logEnd(relay string, err error) {
	entry := cs.log.WithField("relay", relay)
	switch {
	case err == nil:
		entry.Debug("relay ended: peer closed")
	case IsPeerClosed(err):
		entry.WithError(err).Debug("relay ended: peer closed")
	default:
		entry.WithError(err).Warn("relay ended with error")
		cs.span.RecordError(err)
		cs.span.SetStatus(codes.Error, relay+" relay failed")
	}
}

// writePump handles all outgoing client messages in a single goroutine
func (cs *ClientSession) writePump(ctx context.Context) {
	defer cs.wg.Done()

	for {
		// Once upstream has ended, the rest of the queue goes through flush
		select {
		case <-cs.drain:
			cs.flush(ctx)
			cs.Close()
			return
		default:
		}

		select {
		case <-cs.CloseChan:
			return
		case <-cs.drain:
			cs.flush(ctx)
			cs.Close()
			return
		case msg := <-cs.writeChan:
			if err := cs.writeMessage(msg); err != nil {
				cs.finish("writer", err)
				return
			}
			cs.metrics.FrameRelayed(ctx, telemetry.DirectionOutbound, msg.Type)
		}
	}
}

// flush writes whatever is still queued after the upstream side ended,
// giving up at the write timeout or when the client goes away.
func (cs *ClientSession) flush(ctx context.Context) {
	timeout := cs.opts.WriteTimeout
	if timeout <= 0 {
		timeout = drainTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg := <-cs.writeChan:
			if time.Now().After(deadline) {
				cs.log.WithField("dropped", len(cs.writeChan)+1).Warn("client too slow, dropping queued messages")
				return
			}
			if err := cs.writeMessage(msg); err != nil {
				cs.logEnd("writer", err)
				return
			}
			cs.metrics.FrameRelayed(ctx, telemetry.DirectionOutbound, msg.Type)
		default:
			return
		}
	}
}

func (cs *ClientSession) writeMessage(msg *messages.ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	if cs.opts.WriteTimeout > 0 {
		_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(cs.opts.WriteTimeout))
	}
	if err := cs.ClientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("client write failed: %w", err)
	}
	return nil
}

// queueMessage adds a message to the write queue. It blocks while the queue
// is full so nothing is dropped, and fails once the session has closed.
func (cs *ClientSession) queueMessage(msg *messages.ServerMessage) error {
	select {
	case <-cs.CloseChan:
		return ErrSessionClosed
	default:
	}

	select {
	case cs.writeChan <- msg:
		return nil
	case <-cs.CloseChan:
		return ErrSessionClosed
	}
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastActivity returns when a frame last arrived from either side.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Close terminates the session and releases both connections. It is safe to
// call more than once and from any goroutine.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	// Signal close (for goroutines blocked on the queue or the pump)
	close(cs.CloseChan)

	_ = cs.ClientConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout),
	)
	clientErr := cs.ClientConn.Close()
	upstreamErr := cs.Upstream.Close()

	cs.span.End()
	return errors.Join(clientErr, upstreamErr)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
