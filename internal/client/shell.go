// Package client is the interactive peer: a line shell driving a sync client
// and printing what the relay and the other peer do.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"syncrelay/internal/protocol"
	"syncrelay/internal/syncclient"
)

// Peer is the part of the sync client the shell drives.
type Peer interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() syncclient.ConnectionState
	Role() protocol.Role
	ClientID() string
	Peers() map[string]protocol.Role

	PullFromPeer() error
	PushToPeer() error
	OfferControl() error
	RequestControl() error
	AcceptTransfer() error
	DeclineTransfer() error
	ReleaseControl() error
	SendTutorialState(payload any) error
	RequestTutorialState() error
}

var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(s *Shell, args string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":       {"help", "show this help", (*Shell).help},
		"status":     {"status", "connection, role and peers", (*Shell).status},
		"connect":    {"connect", "connect again after a disconnect", (*Shell).connect},
		"disconnect": {"disconnect", "leave the session", (*Shell).disconnect},
		"pull":       {"pull", "become Active, the source of tutorial state", peerCall(Peer.PullFromPeer)},
		"push":       {"push", "become Passive and follow the Active peer", peerCall(Peer.PushToPeer)},
		"offer":      {"offer", "offer the Active role to the peer", peerCall(Peer.OfferControl)},
		"request":    {"request", "ask the Active peer for control", peerCall(Peer.RequestControl)},
		"accept":     {"accept", "accept the pending offer or request", peerCall(Peer.AcceptTransfer)},
		"decline":    {"decline", "decline the pending offer or request", peerCall(Peer.DeclineTransfer)},
		"release":    {"release", "give up the Active role", peerCall(Peer.ReleaseControl)},
		"send":       {"send <json>", "broadcast a tutorial state", (*Shell).send},
		"sync":       {"sync", "ask the Active peer for its state", peerCall(Peer.RequestTutorialState)},
		"quit":       {"quit", "leave and exit", (*Shell).quit},
	}
}

// Completer completes command names.
func Completer() *readline.PrefixCompleter {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func peerCall(fn func(Peer) error) func(*Shell, string) error {
	return func(s *Shell, _ string) error {
		return fn(s.peer)
	}
}

// Shell executes typed commands against a Peer and renders client events.
// It implements syncclient.EventHandler.
type Shell struct {
	out io.Writer
	log *zap.Logger

	peer Peer

	mu        sync.Mutex
	lastState json.RawMessage
	pending   string
}

func NewShell(out io.Writer, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{out: out, log: log.Named("shell")}
}

// Attach sets the peer the shell drives. It must be called before the first
// Execute.
func (s *Shell) Attach(p Peer) {
	s.peer = p
}

// Execute runs one command line. It returns false once the user asked to quit.
func (s *Shell) Execute(line string) bool {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "" {
		return true
	}
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := commands[name]
	if !ok {
		s.printf(red, "unknown command %q, try help", name)
		return true
	}
	err := cmd.run(s, strings.TrimSpace(args))
	switch {
	case errors.Is(err, errQuit):
		return false
	case err != nil:
		s.printf(red, "%s: %v", name, err)
	}
	return true
}

func (s *Shell) help(string) error {
	s.printHelp()
	return nil
}

func (s *Shell) status(string) error {
	s.printStatus()
	return nil
}

func (s *Shell) quit(string) error {
	return errQuit
}

func (s *Shell) disconnect(string) error {
	s.peer.Disconnect()
	return nil
}

func (s *Shell) connect(string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return s.peer.Connect(ctx)
}

func (s *Shell) send(args string) error {
	if args == "" {
		return fmt.Errorf("usage: %s", commands["send"].usage)
	}
	raw := json.RawMessage(args)
	if !json.Valid(raw) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if err := s.peer.SendTutorialState(raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastState = raw
	s.mu.Unlock()
	return nil
}

// Run connects, then reads commands from rl until quit or EOF.
func (s *Shell) Run(ctx context.Context, rl *readline.Instance) error {
	if err := s.peer.Connect(ctx); err != nil {
		return err
	}
	s.printf(dim, "type help for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			return nil
		}
		if !s.Execute(line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Shell) printf(c *color.Color, format string, args ...any) {
	fmt.Fprintf(s.out, "  %s\n", c.Sprintf(format, args...))
}

func (s *Shell) printHelp() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(s.out, "  %s\n", purple.Sprint("Commands:"))
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(s.out, "    %-14s %s\n", c.usage, dim.Sprint(c.help))
	}
}

func (s *Shell) printStatus() {
	st := s.peer.State()
	role := s.peer.Role()
	PrintField(s.out, "state", st.String(), stateColor(st))
	PrintField(s.out, "role", role.String(), roleColor(role))
	if id := s.peer.ClientID(); id != "" {
		PrintField(s.out, "client", id, cyan)
	}
	peers := s.peer.Peers()
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		PrintField(s.out, "peer", fmt.Sprintf("%s (%s)", id, peers[id]), roleColor(peers[id]))
	}
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending != "" {
		PrintField(s.out, "pending", pending, yellow)
	}
}

func (s *Shell) OnConnectionStateChanged(_, next syncclient.ConnectionState) {
	s.printf(stateColor(next), "● %s", next)
}

func (s *Shell) OnClientIDAssigned(id string) {
	s.printf(cyan, "joined as %s", id)
}

func (s *Shell) OnPeerConnected(id string) {
	s.printf(green, "peer %s joined", shortID(id))
}

func (s *Shell) OnPeerDisconnected(id string) {
	s.printf(yellow, "peer %s left", shortID(id))
}

func (s *Shell) OnTutorialState(from string, payload json.RawMessage) {
	s.mu.Lock()
	s.lastState = append(json.RawMessage(nil), payload...)
	s.mu.Unlock()
	s.printf(cyan, "state from %s: %s", shortID(from), payload)
}

// OnSyncRequested answers with the last state this peer sent or received.
func (s *Shell) OnSyncRequested(from string) {
	s.mu.Lock()
	state := s.lastState
	s.mu.Unlock()
	s.printf(dim, "%s asked for the current state", shortID(from))
	if state == nil || s.peer.Role() != protocol.RoleActive {
		return
	}
	if err := s.peer.SendTutorialState(state); err != nil {
		s.log.Debug("answer sync request", zap.Error(err))
	}
}

func (s *Shell) setPending(text string) {
	s.mu.Lock()
	s.pending = text
	s.mu.Unlock()
}

func (s *Shell) OnControlOffered(from string) {
	s.setPending("offer from " + shortID(from))
	s.printf(purple, "%s offers control: accept or decline", shortID(from))
}

func (s *Shell) OnControlRequested(from string) {
	s.setPending("request from " + shortID(from))
	s.printf(purple, "%s requests control: accept or decline", shortID(from))
}

func (s *Shell) OnControlAccepted(from string) {
	s.printf(green, "%s accepted", shortID(from))
}

func (s *Shell) OnControlDeclined(from string) {
	s.printf(yellow, "%s declined", shortID(from))
}

func (s *Shell) OnRoleChanged(prev, next protocol.Role) {
	s.setPending("")
	s.printf(roleColor(next), "role %s → %s", prev, next)
}

func (s *Shell) OnError(err error) {
	var se *syncclient.ServerError
	switch {
	case errors.As(err, &se):
		s.printf(red, "relay: %s", se.Message)
	case syncclient.IsTerminal(err):
		s.printf(red, "%v (not retrying)", err)
	default:
		s.printf(yellow, "%v", err)
	}
}
