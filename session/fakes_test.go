package session

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/room4-2/ReminderRelay/messages"
	"github.com/room4-2/ReminderRelay/realtime"
)

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

// fakeUpstream records sent events and replays queued server events.
type fakeUpstream struct {
	mu      sync.Mutex
	sent    []realtime.ClientEvent
	sendErr error
	failAt  int // 1-based index of the Send that fails, 0 for sendErr on every call

	events    chan *realtime.ServerEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		events: make(chan *realtime.ServerEvent, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeUpstream) Send(event realtime.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.closed:
		return realtime.ErrClosed
	default:
	}
	if f.sendErr != nil && (f.failAt == 0 || f.failAt == len(f.sent)+1) {
		return f.sendErr
	}
	f.sent = append(f.sent, event)
	return nil
}

// Receive delivers everything queued before reporting the close, like a
// socket whose peer sent frames and then hung up.
func (f *fakeUpstream) Receive() (*realtime.ServerEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return nil, realtime.ErrClosed
	}
}

func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeUpstream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeUpstream) sentEvents() []realtime.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.ClientEvent(nil), f.sent...)
}

func (f *fakeUpstream) sentTypes() []string {
	var types []string
	for _, ev := range f.sentEvents() {
		types = append(types, ev.EventType())
	}
	return types
}

// fakeClient is an in-memory browser connection.
type fakeClient struct {
	incoming chan []byte
	written  chan *messages.ServerMessage

	writeDelay  time.Duration // per WriteMessage, simulates a slow browser
	controlGate chan struct{} // when set, WriteControl blocks until it closes

	mu        sync.Mutex
	controls  []int
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		incoming: make(chan []byte, 64),
		written:  make(chan *messages.ServerMessage, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeClient) send(msg messages.ClientMessage) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		panic(err)
	}
	c.incoming <- data
}

// hangUp simulates the browser going away.
func (c *fakeClient) hangUp() {
	close(c.incoming)
}

func (c *fakeClient) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.incoming:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway}
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeClient) WriteMessage(messageType int, data []byte) error {
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	var msg messages.ServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.written <- &msg
	return nil
}

func (c *fakeClient) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if c.controlGate != nil {
		<-c.controlGate
	}
	c.mu.Lock()
	c.controls = append(c.controls, messageType)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
