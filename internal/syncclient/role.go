package syncclient

import (
	"fmt"

	"go.uber.org/zap"

	"syncrelay/internal/protocol"
)

type transferKind int

const (
	transferNone transferKind = iota
	transferOffer
	transferRequest
)

type transfer struct {
	kind transferKind
	peer string
}

func (t transfer) pending() bool { return t.kind != transferNone }

// roleCoordinator holds the local role phase, the last role announced by each
// peer and the control transfers in flight. It is only touched by the event
// loop.
type roleCoordinator struct {
	phase    protocol.Role
	outgoing transfer
	incoming transfer
	peers    map[string]protocol.Role
}

func newRoleCoordinator() *roleCoordinator {
	return &roleCoordinator{
		phase: protocol.RoleDisconnected,
		peers: make(map[string]protocol.Role),
	}
}

func (r *roleCoordinator) reset() {
	r.outgoing = transfer{}
	r.incoming = transfer{}
	r.peers = make(map[string]protocol.Role)
}

func (r *roleCoordinator) activePeer() (string, bool) {
	for id, role := range r.peers {
		if role == protocol.RoleActive {
			return id, true
		}
	}
	return "", false
}

func (r *roleCoordinator) forgetPeer(id string) {
	delete(r.peers, id)
	if r.incoming.peer == id {
		r.incoming = transfer{}
	}
	if r.outgoing.pending() && (r.outgoing.peer == id || len(r.peers) == 0) {
		r.outgoing = transfer{}
	}
}

// setRole moves the local phase and reports the change to the handler.
func (c *Client) setRole(next protocol.Role) {
	prev := c.roles.phase
	if prev == next {
		return
	}
	c.roles.phase = next
	c.log.Info("role changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	c.notify.push(func(h EventHandler) { h.OnRoleChanged(prev, next) })
}

func (c *Client) requirePhase(op string, allowed ...protocol.Role) error {
	if c.state != StateConnected || c.roles.phase == protocol.RoleDisconnected {
		return fmt.Errorf("%w: %s: %w", ErrInvalidState, op, ErrNotConnected)
	}
	for _, r := range allowed {
		if c.roles.phase == r {
			return nil
		}
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, c.roles.phase)
}

// announce tells the peers about a local role change. With legacy role
// messages enabled, taking or leaving Active also sends lock/unlock_screen.
func (c *Client) announce(prev, next protocol.Role) error {
	if err := c.send(protocol.MsgRoleAnnounce, protocol.RoleData{Role: next, Previous: prev}); err != nil {
		return err
	}
	if !c.cfg.LegacyRoleMessages {
		return nil
	}
	switch {
	case next == protocol.RoleActive:
		return c.send(protocol.MsgLockScreen, nil)
	case prev == protocol.RoleActive:
		return c.send(protocol.MsgUnlockScreen, nil)
	}
	return nil
}

// PullFromPeer makes this peer Active: it becomes the source of tutorial
// state. Fails with ErrInvalidState when another peer is already Active.
func (c *Client) PullFromPeer() error {
	return c.call(func() error {
		if err := c.requirePhase("pull", protocol.RoleConnectedIdle, protocol.RoleActive); err != nil {
			return err
		}
		if c.roles.phase == protocol.RoleActive {
			return nil
		}
		if id, ok := c.roles.activePeer(); ok {
			return fmt.Errorf("%w: peer %s is active", ErrInvalidState, id)
		}
		if err := c.announce(c.roles.phase, protocol.RoleActive); err != nil {
			return err
		}
		c.setRole(protocol.RoleActive)
		return nil
	})
}

// PushToPeer makes this peer Passive: it follows the state of the Active peer.
func (c *Client) PushToPeer() error {
	return c.call(func() error {
		if err := c.requirePhase("push", protocol.RoleConnectedIdle, protocol.RolePassive); err != nil {
			return err
		}
		if c.roles.phase == protocol.RolePassive {
			return nil
		}
		if err := c.announce(c.roles.phase, protocol.RolePassive); err != nil {
			return err
		}
		c.setRole(protocol.RolePassive)
		return nil
	})
}

// OfferControl proposes that the peer takes over the Active role. Until the
// peer answers or TransferTimeout passes, this side may not broadcast state.
func (c *Client) OfferControl() error {
	return c.call(func() error {
		if err := c.requirePhase("offer control", protocol.RoleActive); err != nil {
			return err
		}
		if c.roles.outgoing.pending() {
			return fmt.Errorf("%w: transfer already pending", ErrInvalidState)
		}
		if err := c.send(protocol.MsgOfferControl, nil); err != nil {
			return err
		}
		c.startTransfer(transferOffer)
		return nil
	})
}

// RequestControl asks the Active peer to hand over the Active role.
func (c *Client) RequestControl() error {
	return c.call(func() error {
		if err := c.requirePhase("request control", protocol.RolePassive); err != nil {
			return err
		}
		if c.roles.outgoing.pending() {
			return fmt.Errorf("%w: transfer already pending", ErrInvalidState)
		}
		if err := c.send(protocol.MsgRequestControl, nil); err != nil {
			return err
		}
		c.startTransfer(transferRequest)
		return nil
	})
}

// AcceptTransfer accepts the offer or request received last. The local role
// flips right away; the peer flips when the accept reaches it.
func (c *Client) AcceptTransfer() error {
	return c.call(func() error {
		if err := c.requirePhase("accept transfer",
			protocol.RoleConnectedIdle, protocol.RoleActive, protocol.RolePassive); err != nil {
			return err
		}
		in := c.roles.incoming
		if !in.pending() {
			return fmt.Errorf("%w: no transfer to accept", ErrInvalidState)
		}
		if err := c.send(protocol.MsgAcceptControl, nil); err != nil {
			return err
		}
		c.roles.incoming = transfer{}
		c.clearOutgoing()

		switch in.kind {
		case transferOffer:
			c.roles.peers[in.peer] = protocol.RolePassive
			c.setRole(protocol.RoleActive)
		case transferRequest:
			c.roles.peers[in.peer] = protocol.RoleActive
			c.setRole(protocol.RolePassive)
		}
		return nil
	})
}

func (c *Client) DeclineTransfer() error {
	return c.call(func() error {
		if err := c.requirePhase("decline transfer",
			protocol.RoleConnectedIdle, protocol.RoleActive, protocol.RolePassive); err != nil {
			return err
		}
		if !c.roles.incoming.pending() {
			return fmt.Errorf("%w: no transfer to decline", ErrInvalidState)
		}
		if err := c.send(protocol.MsgDeclineControl, nil); err != nil {
			return err
		}
		c.roles.incoming = transfer{}
		return nil
	})
}

// ReleaseControl gives up the Active role without handing it to anyone.
func (c *Client) ReleaseControl() error {
	return c.call(func() error {
		if err := c.requirePhase("release control", protocol.RoleActive); err != nil {
			return err
		}
		if err := c.send(protocol.MsgReleaseControl, nil); err != nil {
			return err
		}
		if c.cfg.LegacyRoleMessages {
			if err := c.send(protocol.MsgUnlockScreen, nil); err != nil {
				return err
			}
		}
		c.clearOutgoing()
		c.setRole(protocol.RoleConnectedIdle)
		return nil
	})
}

// handleRoleMessage applies a role control message from a peer.
func (c *Client) handleRoleMessage(msg *protocol.Message) {
	from := msg.ClientID
	if c.roles.phase == protocol.RoleDisconnected {
		return
	}

	switch msg.Type {
	case protocol.MsgRoleAnnounce:
		var rd protocol.RoleData
		if err := protocol.DecodeData(msg, &rd); err != nil || !rd.Role.Valid() {
			c.emitError(fmt.Errorf("%w: bad role_announce from %s", ErrInvalidMessage, from))
			return
		}
		c.roles.peers[from] = rd.Role
		if rd.Role == protocol.RoleActive && c.roles.phase == protocol.RoleActive {
			c.resolveActiveConflict(from)
		}

	case protocol.MsgOfferControl:
		if c.roles.phase == protocol.RoleActive {
			c.log.Warn("ignoring control offer while active", zap.String("from", from))
			return
		}
		c.roles.incoming = transfer{kind: transferOffer, peer: from}
		c.notify.push(func(h EventHandler) { h.OnControlOffered(from) })

	case protocol.MsgRequestControl:
		if c.roles.phase != protocol.RoleActive {
			if err := c.send(protocol.MsgDeclineControl, nil); err != nil {
				c.log.Warn("auto decline failed", zap.Error(err))
			}
			return
		}
		c.roles.incoming = transfer{kind: transferRequest, peer: from}
		c.notify.push(func(h EventHandler) { h.OnControlRequested(from) })

	case protocol.MsgAcceptControl:
		out := c.roles.outgoing
		if !out.pending() {
			c.log.Debug("accept without pending transfer", zap.String("from", from))
			return
		}
		c.clearOutgoing()
		c.roles.incoming = transfer{}
		c.notify.push(func(h EventHandler) { h.OnControlAccepted(from) })
		switch out.kind {
		case transferOffer:
			c.roles.peers[from] = protocol.RoleActive
			c.setRole(protocol.RolePassive)
		case transferRequest:
			c.roles.peers[from] = protocol.RolePassive
			c.setRole(protocol.RoleActive)
		}

	case protocol.MsgDeclineControl:
		if !c.roles.outgoing.pending() {
			return
		}
		c.clearOutgoing()
		c.notify.push(func(h EventHandler) { h.OnControlDeclined(from) })

	case protocol.MsgReleaseControl, protocol.MsgUnlockScreen:
		c.roles.peers[from] = protocol.RoleConnectedIdle
		if c.roles.phase == protocol.RolePassive {
			c.setRole(protocol.RoleConnectedIdle)
		}

	case protocol.MsgLockScreen:
		c.roles.peers[from] = protocol.RoleActive
		if c.roles.phase == protocol.RoleActive {
			c.resolveActiveConflict(from)
			return
		}
		c.clearOutgoing()
		if c.roles.phase != protocol.RolePassive {
			c.setRole(protocol.RolePassive)
		}
	}
}

// resolveActiveConflict settles two peers claiming Active at once: the
// smaller client id keeps the role.
func (c *Client) resolveActiveConflict(peer string) {
	if c.clientID != "" && c.clientID < peer {
		c.roles.peers[peer] = protocol.RolePassive
		return
	}
	c.log.Warn("peer claimed active role, stepping down", zap.String("peer", peer))
	c.clearOutgoing()
	c.setRole(protocol.RolePassive)
}

// startTransfer records an outgoing offer or request and arms its timeout.
func (c *Client) startTransfer(kind transferKind) {
	c.roles.outgoing = transfer{kind: kind}
	if d := c.cfg.TransferTimeout; d > 0 {
		c.sched.schedule(taskTransferTimeout, c.gen, d, func() {
			if !c.roles.outgoing.pending() {
				return
			}
			c.roles.outgoing = transfer{}
			c.log.Warn("control transfer unanswered", zap.Duration("timeout", d))
			c.emitError(fmt.Errorf("%w: no answer to control transfer after %s", ErrTimeout, d))
		})
	}
}

func (c *Client) clearOutgoing() {
	c.roles.outgoing = transfer{}
	c.sched.cancel(taskTransferTimeout)
}
