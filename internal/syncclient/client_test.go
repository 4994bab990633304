package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"syncrelay/internal/protocol"
)

func stateChanges(events []event) []string {
	var out []string
	for _, e := range events {
		if e.kind == "state" {
			out = append(out, e.prev+">"+e.next)
		}
	}
	return out
}

func TestConnectDisconnectStatePath(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)

	srv := h.join(t, "A")
	require.Equal(t, StateConnected, h.client.State())
	require.Equal(t, protocol.RoleConnectedIdle, h.client.Role())
	require.Equal(t, "A", h.client.ClientID())

	srv.Close()
	h.rec.waitState(t, StateDisconnected)
	require.Equal(t, protocol.RoleDisconnected, h.client.Role())
	require.Empty(t, h.client.ClientID())

	h.connect(t)
	h.client.Disconnect()
	h.client.Disconnect()
	require.NoError(t, h.client.Close())

	require.Equal(t, []string{
		"disconnected>connecting",
		"connecting>connected",
		"connected>disconnected",
		"disconnected>connecting",
		"connecting>connected",
		"connected>disconnected",
	}, stateChanges(h.rec.snapshot()))

	for _, e := range h.rec.snapshot() {
		if e.kind == "state" || e.kind == "role" {
			require.NotEqual(t, e.prev, e.next)
		}
	}
}

func TestConnectAlreadyInProgress(t *testing.T) {
	h := newHarness(t, testConfig())
	h.dialer.setHang(true)

	errc := h.connectAsync()
	h.rec.waitState(t, StateConnecting)

	err := h.client.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionAlreadyInProgress)
	require.Eventually(t, func() bool { return h.dialer.dialCount() == 1 }, waitTimeout, 5*time.Millisecond)
	require.Never(t, func() bool { return h.dialer.dialCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	h.client.Disconnect()
	require.Error(t, waitErr(t, errc))
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestConnectAlreadyConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connect(t)
	require.ErrorIs(t, h.client.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnectRequiresSession(t *testing.T) {
	cfg := testConfig()
	cfg.SessionID = ""
	h := newHarness(t, cfg)
	require.Error(t, h.client.Connect(context.Background()))
	require.Equal(t, 0, h.dialer.dialCount())
}

func TestConnectContextCancel(t *testing.T) {
	h := newHarness(t, testConfig())
	h.dialer.setHang(true)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.client.Connect(ctx) }()
	h.rec.waitState(t, StateConnecting)
	cancel()

	require.ErrorIs(t, waitErr(t, errc), context.Canceled)
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestConnectTimeout(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.dialer.setHang(true)

	errc := h.connectAsync()
	h.blockUntil(t, 1)
	h.clock.Advance(cfg.ConnectionTimeout)

	require.ErrorIs(t, waitErr(t, errc), ErrTimeout)
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestHandshakeTimeout(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	errc := h.connectAsync()
	srv := h.dialer.accept(t)
	srv.expect(t, protocol.MsgProtocolHandshake)

	h.blockUntil(t, 1)
	h.clock.Advance(cfg.HandshakeTimeout)

	err := waitErr(t, errc)
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, IsTerminal(err))
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestConnectionFailed(t *testing.T) {
	h := newHarness(t, testConfig())
	h.dialer.setFail(true)

	err := h.client.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	h.rec.waitError(t, ErrConnectionFailed)
	require.Equal(t, 1, h.dialer.dialCount())
}

func TestHandshakeVersionMismatch(t *testing.T) {
	h := newHarness(t, testConfig())

	errc := h.connectAsync()
	srv := h.dialer.accept(t)
	hs := srv.expect(t, protocol.MsgProtocolHandshake)
	require.Equal(t, protocol.Version, hs.ProtocolVersion)

	ack := protocol.NewAck(true, "")
	ack.ProtocolVersion = protocol.Version + 1
	srv.push(t, ack)

	err := waitErr(t, errc)
	require.ErrorIs(t, err, ErrProtocolVersionMismatch)
	require.True(t, IsTerminal(err))
	require.Equal(t, StateError, h.client.State())
	require.NoError(t, h.client.Close())
	require.Zero(t, h.rec.count(func(e event) bool {
		return e.kind == "state" && e.next == StateConnected.String()
	}))
}

func TestClientConnectedVersionMismatch(t *testing.T) {
	h := newHarness(t, testConfig())

	errc := h.connectAsync()
	srv := h.dialer.accept(t)
	srv.expect(t, protocol.MsgProtocolHandshake)

	notice := protocol.NewClientConnected("A", protocol.PeerData{ClientID: "A", Self: true})
	notice.ProtocolVersion = protocol.Version + 1
	srv.push(t, notice)

	require.ErrorIs(t, waitErr(t, errc), ErrProtocolVersionMismatch)
	require.Equal(t, StateError, h.client.State())
}

func TestHandshakeRejectedDoesNotReconnect(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	errc := h.connectAsync()
	srv := h.dialer.accept(t)
	srv.expect(t, protocol.MsgProtocolHandshake)
	srv.push(t, protocol.NewAck(false, "relay is draining"))

	err := waitErr(t, errc)
	require.ErrorIs(t, err, ErrProtocolRejected)
	require.Contains(t, err.Error(), "relay is draining")
	require.Equal(t, StateError, h.client.State())

	h.clock.Advance(time.Hour)
	require.Never(t, func() bool { return h.dialer.dialCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, h.client.Close())
	require.Zero(t, h.rec.count(func(e event) bool {
		return e.kind == "error" && errors.Is(e.err, ErrMaxReconnectAttemptsExceeded)
	}))
}

func TestReconnectAfterDrop(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	srv := h.join(t, "A")
	srv.Close()
	h.rec.waitState(t, StateDisconnected)

	h.blockUntil(t, 1)
	h.clock.Advance(cfg.ReconnectDelay)

	srv = h.dialer.accept(t)
	srv.expect(t, protocol.MsgProtocolHandshake)
	srv.push(t, protocol.NewAck(true, ""))
	h.rec.waitState(t, StateConnected)
	require.Equal(t, protocol.RoleConnectedIdle, h.client.Role())
	require.Equal(t, 2, h.dialer.dialCount())
}

func TestMaxReconnectAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	h := newHarness(t, cfg)

	srv := h.join(t, "A")
	h.dialer.setFail(true)
	srv.Close()
	h.rec.waitState(t, StateDisconnected)

	for i := 0; i < cfg.MaxReconnectAttempts; i++ {
		h.blockUntil(t, 1)
		h.clock.Advance(cfg.ReconnectDelay)
		h.rec.waitState(t, StateConnecting)
		h.rec.waitState(t, StateDisconnected)
	}

	h.rec.waitError(t, ErrMaxReconnectAttemptsExceeded)
	h.rec.waitState(t, StateError)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.client.Close())
	require.Equal(t, 1+cfg.MaxReconnectAttempts, h.dialer.dialCount())
	require.Equal(t, 1, h.rec.count(func(e event) bool {
		return e.kind == "error" && errors.Is(e.err, ErrMaxReconnectAttemptsExceeded)
	}))
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	srv := h.join(t, "A")
	srv.Close()
	h.rec.waitState(t, StateDisconnected)
	h.blockUntil(t, 1)
	require.True(t, h.pending(t, taskReconnect))

	h.client.Disconnect()
	require.False(t, h.pending(t, taskReconnect))
	h.clock.Advance(cfg.ReconnectDelay * 10)
	require.Never(t, func() bool { return h.dialer.dialCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestDisconnectWhileConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")

	h.client.Disconnect()
	select {
	case <-srv.closed:
	case <-time.After(waitTimeout):
		t.Fatal("transport not closed")
	}
	require.Equal(t, StateDisconnected, h.client.State())
	require.ErrorIs(t, h.client.RequestTutorialState(), ErrNotConnected)
}

func TestSendRequiresConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	require.ErrorIs(t, h.client.RequestTutorialState(), ErrNotConnected)
	require.ErrorIs(t, h.client.SendTutorialState(map[string]int{"index": 1}), ErrNotConnected)
	require.ErrorIs(t, h.client.OfferControl(), ErrInvalidState)
	require.ErrorIs(t, h.client.Send(&protocol.Message{Type: protocol.MsgRequestSync}), ErrNotConnected)
}

func TestSendWithoutClientID(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.connect(t)

	err := h.client.RequestTutorialState()
	require.ErrorIs(t, err, ErrInvalidMessage)
	h.rec.waitError(t, ErrInvalidMessage)

	require.ErrorIs(t, h.client.SendTutorialState(json.RawMessage(`{"index":1}`)), ErrInvalidState)
	require.ErrorIs(t, h.client.PullFromPeer(), ErrInvalidMessage)
	require.Equal(t, protocol.RoleConnectedIdle, h.client.Role())
	srv.expectNone(t)
}

func TestStateUpdateRejectedWhilePassive(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")

	require.NoError(t, h.client.PushToPeer())
	announce := srv.expect(t, protocol.MsgRoleAnnounce)
	require.Equal(t, "A", announce.ClientID)

	err := h.client.SendTutorialState(map[string]int{"index": 2})
	require.ErrorIs(t, err, ErrInvalidState)
	err = h.client.Send(&protocol.Message{Type: protocol.MsgStateUpdate, Data: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrInvalidState)
	srv.expectNone(t)
}

func TestDispatchInbound(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")

	srv.push(t, protocol.NewClientConnected("B", protocol.PeerData{ClientID: "B", Participants: 2}))
	require.Equal(t, "B", h.rec.waitKind(t, "peer_connected").from)
	require.Equal(t, map[string]protocol.Role{"B": protocol.RoleConnectedIdle}, h.client.Peers())

	srv.pushRaw(t, []byte(`{"type":"cursor_moved","clientId":"B","timestamp":1,"protocol_version":1}`))
	srv.pushRaw(t, []byte(`not json`))
	h.rec.waitError(t, ErrInvalidMessage)

	srv.push(t, peerMessage(t, protocol.MsgRequestSync, "B", nil))
	require.Equal(t, "B", h.rec.waitKind(t, "sync_requested").from)

	srv.push(t, peerMessage(t, protocol.MsgStateUpdate, "B", map[string]any{"tutorialId": "t1"}))
	e := h.rec.waitKind(t, "tutorial_state")
	require.Equal(t, "B", e.from)
	require.JSONEq(t, `{"tutorialId":"t1"}`, string(e.payload))

	srv.push(t, protocol.NewErrorMessage("session expired"))
	e = h.rec.waitKind(t, "error")
	var se *ServerError
	require.ErrorAs(t, e.err, &se)
	require.Equal(t, "session expired", se.Message)

	srv.push(t, protocol.NewClientDisconnected("B", protocol.PeerData{ClientID: "B", Participants: 1}))
	require.Equal(t, "B", h.rec.waitKind(t, "peer_disconnected").from)
	require.Empty(t, h.client.Peers())
	require.Equal(t, StateConnected, h.client.State())
}

func TestRoleControlSequence(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")
	srv.push(t, protocol.NewClientConnected("B", protocol.PeerData{ClientID: "B", Participants: 2}))
	h.rec.waitKind(t, "peer_connected")

	require.ErrorIs(t, h.client.OfferControl(), ErrInvalidState)
	require.ErrorIs(t, h.client.RequestControl(), ErrInvalidState)
	require.ErrorIs(t, h.client.AcceptTransfer(), ErrInvalidState)

	require.NoError(t, h.client.PullFromPeer())
	announce := srv.expect(t, protocol.MsgRoleAnnounce)
	var rd protocol.RoleData
	require.NoError(t, protocol.DecodeData(announce, &rd))
	require.Equal(t, protocol.RoleActive, rd.Role)
	h.rec.waitRole(t, protocol.RoleActive)

	require.NoError(t, h.client.SendTutorialState(map[string]int{"index": 2}))
	update := srv.expect(t, protocol.MsgStateUpdate)
	require.Equal(t, "A", update.ClientID)
	require.Equal(t, protocol.Version, update.ProtocolVersion)

	// Peer asks for control and gets it.
	srv.push(t, peerMessage(t, protocol.MsgRequestControl, "B", nil))
	require.Equal(t, "B", h.rec.waitKind(t, "control_requested").from)
	require.NoError(t, h.client.AcceptTransfer())
	srv.expect(t, protocol.MsgAcceptControl)
	h.rec.waitRole(t, protocol.RolePassive)
	require.Equal(t, protocol.RoleActive, h.client.Peers()["B"])

	srv.push(t, peerMessage(t, protocol.MsgStateUpdate, "B", map[string]int{"index": 3}))
	h.rec.waitKind(t, "tutorial_state")

	// Passive side asks back and is declined.
	require.NoError(t, h.client.RequestControl())
	srv.expect(t, protocol.MsgRequestControl)
	require.ErrorIs(t, h.client.RequestControl(), ErrInvalidState)
	srv.push(t, peerMessage(t, protocol.MsgDeclineControl, "B", nil))
	h.rec.waitKind(t, "control_declined")
	require.Equal(t, protocol.RolePassive, h.client.Role())

	// Asks again and is accepted.
	require.NoError(t, h.client.RequestControl())
	srv.expect(t, protocol.MsgRequestControl)
	srv.push(t, peerMessage(t, protocol.MsgAcceptControl, "B", nil))
	h.rec.waitKind(t, "control_accepted")
	h.rec.waitRole(t, protocol.RoleActive)

	// No broadcast while an offer is outstanding.
	require.NoError(t, h.client.OfferControl())
	srv.expect(t, protocol.MsgOfferControl)
	require.ErrorIs(t, h.client.SendTutorialState(map[string]int{"index": 4}), ErrInvalidState)
	srv.push(t, peerMessage(t, protocol.MsgDeclineControl, "B", nil))
	h.rec.waitKind(t, "control_declined")
	require.NoError(t, h.client.SendTutorialState(map[string]int{"index": 4}))
	srv.expect(t, protocol.MsgStateUpdate)

	require.NoError(t, h.client.ReleaseControl())
	srv.expect(t, protocol.MsgReleaseControl)
	h.rec.waitRole(t, protocol.RoleConnectedIdle)
}

func TestIncomingOfferAcceptedFromHandler(t *testing.T) {
	h := newHarness(t, testConfig())
	accepted := make(chan error, 1)
	h.rec.onOffered = func(string) { accepted <- h.client.AcceptTransfer() }

	srv := h.join(t, "A")
	require.NoError(t, h.client.PushToPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)

	srv.push(t, peerMessage(t, protocol.MsgOfferControl, "B", nil))
	select {
	case err := <-accepted:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("handler did not run")
	}
	srv.expect(t, protocol.MsgAcceptControl)
	h.rec.waitRole(t, protocol.RoleActive)
	require.Equal(t, protocol.RolePassive, h.client.Peers()["B"])
}

func TestRequestWhileNotActiveIsDeclined(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")

	srv.push(t, peerMessage(t, protocol.MsgRequestControl, "B", nil))
	srv.expect(t, protocol.MsgDeclineControl)
	require.ErrorIs(t, h.client.AcceptTransfer(), ErrInvalidState)
}

func TestLegacyRoleMessages(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "B")

	srv.push(t, peerMessage(t, protocol.MsgLockScreen, "A", nil))
	h.rec.waitRole(t, protocol.RolePassive)
	require.Equal(t, protocol.RoleActive, h.client.Peers()["A"])
	require.ErrorIs(t, h.client.PullFromPeer(), ErrInvalidState)

	srv.push(t, peerMessage(t, protocol.MsgUnlockScreen, "A", nil))
	h.rec.waitRole(t, protocol.RoleConnectedIdle)

	// While active, a lock from a peer is settled like a double announce.
	require.NoError(t, h.client.PullFromPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)
	srv.push(t, peerMessage(t, protocol.MsgLockScreen, "A", nil))
	h.rec.waitRole(t, protocol.RolePassive)
}

func TestLegacyActiveRaceKeepsOneActive(t *testing.T) {
	tests := []struct {
		name  string
		local string
		peer  string
		want  protocol.Role
	}{
		{"smaller id keeps active", "a", "b", protocol.RoleActive},
		{"larger id steps down", "b", "a", protocol.RolePassive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.LegacyRoleMessages = true
			h := newHarness(t, cfg)
			srv := h.join(t, tt.local)
			require.NoError(t, h.client.PullFromPeer())
			srv.expect(t, protocol.MsgRoleAnnounce)
			srv.expect(t, protocol.MsgLockScreen)

			srv.push(t, peerMessage(t, protocol.MsgRoleAnnounce, tt.peer, protocol.RoleData{Role: protocol.RoleActive}))
			srv.push(t, peerMessage(t, protocol.MsgLockScreen, tt.peer, nil))
			srv.push(t, peerMessage(t, protocol.MsgRequestSync, tt.peer, nil))
			h.rec.waitKind(t, "sync_requested")
			require.Equal(t, tt.want, h.client.Role())
		})
	}
}

func TestLegacyRoleMessagesEmitted(t *testing.T) {
	cfg := testConfig()
	cfg.LegacyRoleMessages = true
	h := newHarness(t, cfg)
	srv := h.join(t, "A")

	require.NoError(t, h.client.PullFromPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)
	srv.expect(t, protocol.MsgLockScreen)

	require.NoError(t, h.client.ReleaseControl())
	srv.expect(t, protocol.MsgReleaseControl)
	srv.expect(t, protocol.MsgUnlockScreen)
}

func TestActiveConflictTieBreak(t *testing.T) {
	tests := []struct {
		name  string
		local string
		peer  string
		want  protocol.Role
	}{
		{"smaller id keeps active", "a", "b", protocol.RoleActive},
		{"larger id steps down", "b", "a", protocol.RolePassive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			srv := h.join(t, tt.local)
			require.NoError(t, h.client.PullFromPeer())
			srv.expect(t, protocol.MsgRoleAnnounce)

			srv.push(t, peerMessage(t, protocol.MsgRoleAnnounce, tt.peer, protocol.RoleData{Role: protocol.RoleActive}))
			srv.push(t, peerMessage(t, protocol.MsgRequestSync, tt.peer, nil))
			h.rec.waitKind(t, "sync_requested")
			require.Equal(t, tt.want, h.client.Role())
		})
	}
}

func TestPeerJoinTriggersRoleAnnounce(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")
	require.NoError(t, h.client.PullFromPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)

	srv.push(t, protocol.NewClientConnected("B", protocol.PeerData{ClientID: "B", Participants: 2}))
	announce := srv.expect(t, protocol.MsgRoleAnnounce)
	var rd protocol.RoleData
	require.NoError(t, protocol.DecodeData(announce, &rd))
	require.Equal(t, protocol.RoleActive, rd.Role)
}

func TestDropResetsRole(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)
	srv := h.join(t, "A")
	require.NoError(t, h.client.PullFromPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)
	require.NoError(t, h.client.OfferControl())
	srv.expect(t, protocol.MsgOfferControl)

	srv.Close()
	h.rec.waitRole(t, protocol.RoleDisconnected)
	h.rec.waitError(t, ErrConnectionFailed)
	require.ErrorIs(t, h.client.OfferControl(), ErrInvalidState)
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.join(t, "A")
	require.NoError(t, h.client.Close())
	require.NoError(t, h.client.Close())
	require.ErrorIs(t, h.client.Connect(context.Background()), ErrClientClosed)
	h.client.Disconnect()
}

func TestClientIDBeforeAck(t *testing.T) {
	h := newHarness(t, testConfig())
	errc := h.connectAsync()
	srv := h.dialer.accept(t)
	srv.expect(t, protocol.MsgProtocolHandshake)

	srv.push(t, protocol.NewClientConnected("A", protocol.PeerData{ClientID: "A", Self: true, Participants: 1}))
	srv.push(t, protocol.NewAck(true, ""))
	require.NoError(t, waitErr(t, errc))
	require.Equal(t, "A", h.rec.waitKind(t, "client_id").from)

	require.NoError(t, h.client.RequestTutorialState())
	require.Equal(t, "A", srv.expect(t, protocol.MsgRequestSync).ClientID)
}

func TestUnansweredOfferTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.TransferTimeout = 10 * time.Second
	h := newHarness(t, cfg)
	srv := h.join(t, "A")
	require.NoError(t, h.client.PullFromPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)

	require.NoError(t, h.client.OfferControl())
	srv.expect(t, protocol.MsgOfferControl)
	require.True(t, h.pending(t, taskTransferTimeout))
	require.ErrorIs(t, h.client.SendTutorialState(map[string]int{"index": 1}), ErrInvalidState)

	h.blockUntil(t, 1)
	h.clock.Advance(cfg.TransferTimeout)
	h.rec.waitError(t, ErrTimeout)

	require.False(t, h.pending(t, taskTransferTimeout))
	require.Equal(t, protocol.RoleActive, h.client.Role())
	require.NoError(t, h.client.SendTutorialState(map[string]int{"index": 1}))
	srv.expect(t, protocol.MsgStateUpdate)
	require.Equal(t, StateConnected, h.client.State())
}

func TestAnsweredOfferCancelsTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	srv := h.join(t, "A")
	require.NoError(t, h.client.PullFromPeer())
	srv.expect(t, protocol.MsgRoleAnnounce)

	require.NoError(t, h.client.OfferControl())
	srv.expect(t, protocol.MsgOfferControl)
	srv.push(t, peerMessage(t, protocol.MsgDeclineControl, "B", nil))
	h.rec.waitKind(t, "control_declined")
	require.False(t, h.pending(t, taskTransferTimeout))
}
