package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

const waitTimeout = 2 * time.Second

// fakeConn is one end of an in-memory transport. The test plays the relay on
// the other end through push and expect.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, transport.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return transport.ErrClosed
	default:
	}
	f.out <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(t *testing.T, msg *protocol.Message) {
	t.Helper()
	f.pushRaw(t, protocol.MustEncode(msg))
}

func (f *fakeConn) pushRaw(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case f.in <- frame:
	case <-time.After(waitTimeout):
		t.Fatal("client is not reading")
	}
}

func (f *fakeConn) expect(t *testing.T, typ protocol.MessageType) *protocol.Message {
	t.Helper()
	select {
	case frame := <-f.out:
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		require.Equal(t, typ, msg.Type)
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("no %s written", typ)
		return nil
	}
}

func (f *fakeConn) expectNone(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.out:
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	hang  bool
	dials int
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	fail, hang := d.fail, d.hang
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) setHang(v bool) {
	d.mu.Lock()
	d.hang = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) accept(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("client did not dial")
		return nil
	}
}

type event struct {
	kind    string
	from    string
	prev    string
	next    string
	err     error
	payload json.RawMessage
}

// recorder keeps every event in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []event
	ch     chan event

	onOffered   func(from string)
	onRequested func(from string)
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan event, 1024)}
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) OnConnectionStateChanged(prev, next ConnectionState) {
	r.add(event{kind: "state", prev: prev.String(), next: next.String()})
}
func (r *recorder) OnClientIDAssigned(id string) { r.add(event{kind: "client_id", from: id}) }
func (r *recorder) OnPeerConnected(id string)    { r.add(event{kind: "peer_connected", from: id}) }
func (r *recorder) OnPeerDisconnected(id string) { r.add(event{kind: "peer_disconnected", from: id}) }
func (r *recorder) OnTutorialState(from string, payload json.RawMessage) {
	r.add(event{kind: "tutorial_state", from: from, payload: payload})
}
func (r *recorder) OnSyncRequested(from string) { r.add(event{kind: "sync_requested", from: from}) }
func (r *recorder) OnControlOffered(from string) {
	r.add(event{kind: "control_offered", from: from})
	if r.onOffered != nil {
		r.onOffered(from)
	}
}
func (r *recorder) OnControlRequested(from string) {
	r.add(event{kind: "control_requested", from: from})
	if r.onRequested != nil {
		r.onRequested(from)
	}
}
func (r *recorder) OnControlAccepted(from string) { r.add(event{kind: "control_accepted", from: from}) }
func (r *recorder) OnControlDeclined(from string) { r.add(event{kind: "control_declined", from: from}) }
func (r *recorder) OnRoleChanged(prev, next protocol.Role) {
	r.add(event{kind: "role", prev: prev.String(), next: next.String()})
}
func (r *recorder) OnError(err error) { r.add(event{kind: "error", err: err}) }

func (r *recorder) waitFor(t *testing.T, what string, match func(event) bool) event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-r.ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return event{}
		}
	}
}

func (r *recorder) waitKind(t *testing.T, kind string) event {
	t.Helper()
	return r.waitFor(t, kind, func(e event) bool { return e.kind == kind })
}

func (r *recorder) waitState(t *testing.T, next ConnectionState) {
	t.Helper()
	r.waitFor(t, "state "+next.String(), func(e event) bool {
		return e.kind == "state" && e.next == next.String()
	})
}

func (r *recorder) waitRole(t *testing.T, next protocol.Role) {
	t.Helper()
	r.waitFor(t, "role "+next.String(), func(e event) bool {
		return e.kind == "role" && e.next == next.String()
	})
}

func (r *recorder) waitError(t *testing.T, target error) event {
	t.Helper()
	return r.waitFor(t, "error "+target.Error(), func(e event) bool {
		return e.kind == "error" && errors.Is(e.err, target)
	})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) count(match func(event) bool) int {
	n := 0
	for _, e := range r.snapshot() {
		if match(e) {
			n++
		}
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://relay.test/ws"
	cfg.SessionID = "s1"
	cfg.MaxReconnectAttempts = 3
	cfg.ReconnectDelay = time.Second
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.HandshakeTimeout = 3 * time.Second
	return cfg
}

type harness struct {
	client *Client
	dialer *fakeDialer
	clock  clockwork.FakeClock
	rec    *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		clock:  clockwork.NewFakeClock(),
		rec:    newRecorder(),
	}
	h.client = New(cfg, h.rec,
		WithClock(h.clock),
		WithDialer(h.dialer),
		WithLogger(zaptest.NewLogger(t)),
	)
	t.Cleanup(func() { h.client.Close() })
	return h
}

func (h *harness) connectAsync() chan error {
	errc := make(chan error, 1)
	go func() { errc <- h.client.Connect(context.Background()) }()
	return errc
}

func waitErr(t *testing.T, errc chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return")
		return nil
	}
}

// connect completes a handshake without assigning a client id.
func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	errc := h.connectAsync()
	srv := h.dialer.accept(t)
	srv.expect(t, protocol.MsgProtocolHandshake)
	srv.push(t, protocol.NewAck(true, ""))
	require.NoError(t, waitErr(t, errc))
	return srv
}

// join completes a handshake and assigns id to the client.
func (h *harness) join(t *testing.T, id string) *fakeConn {
	t.Helper()
	srv := h.connect(t)
	srv.push(t, protocol.NewClientConnected(id, protocol.PeerData{ClientID: id, Self: true, Participants: 1}))
	h.rec.waitKind(t, "client_id")
	return srv
}

func (h *harness) blockUntil(t *testing.T, n int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.clock.BlockUntil(n)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %d timers", n)
	}
}

// pending reports, from the event loop, whether a timer of kind is armed.
func (h *harness) pending(t *testing.T, kind taskKind) bool {
	t.Helper()
	var ok bool
	require.NoError(t, h.client.call(func() error {
		ok = h.client.sched.pending(kind)
		return nil
	}))
	return ok
}

func peerMessage(t *testing.T, typ protocol.MessageType, from string, data any) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(typ, from, data)
	require.NoError(t, err)
	return msg
}
