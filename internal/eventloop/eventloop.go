// Package eventloop implements the single event-loop goroutine (spec C6)
// that is the sole mutator of the keyspace, replication state, and client
// registry. Every other goroutine in the process — per-connection readers,
// the acceptor, the replica client — only ever produces Events onto a
// bounded channel; they never touch Store or State directly.
//
// The tagged-enum Event shape is grounded on the original implementation's
// event_handler.rs dispatch (see SPEC_FULL.md §4): one Go struct per event
// kind, unified behind the Event interface via an unexported marker method,
// switched on with a type switch exactly the way the Rust original matches
// on its enum.
package eventloop

import (
	"strconv"

	"go.uber.org/zap"

	"redisd/internal/config"
	"redisd/internal/executor"
	"redisd/internal/replstate"
	"redisd/internal/respwire"
	"redisd/internal/store"
)

// Event is implemented by every event kind the loop accepts.
type Event interface {
	isEvent()
}

// ClientConnected announces a new client connection. Writer is how the
// loop sends bytes back to that specific client; it is never called from
// any other goroutine.
type ClientConnected struct {
	ClientID uint64
	Addr     string
	Writer   func([]byte) error
}

// ClientDisconnected announces that a client's reader goroutine has exited.
type ClientDisconnected struct {
	ClientID uint64
}

// CommandReceived carries one fully-decoded command from a client (or, with
// ClientID 0, from the replica client applying commands streamed by its
// primary).
type CommandReceived struct {
	ClientID uint64
	Command  *respwire.Command
}

// SlaveConnected records a replica by address once it has announced its
// listening port via REPLCONF. No direct socket handling happens here — the
// replica's ordinary ClientConnected/CommandReceived events already carry
// its bytes; this only adds it to replstate's registry and the propagation
// fan-out set.
type SlaveConnected struct {
	ClientID uint64
	Addr     string
}

// SlaveDisconnected removes a replica from the registry.
type SlaveDisconnected struct {
	Addr string
}

func (ClientConnected) isEvent()    {}
func (ClientDisconnected) isEvent() {}
func (CommandReceived) isEvent()    {}
func (SlaveConnected) isEvent()     {}
func (SlaveDisconnected) isEvent()  {}

// DefaultQueueCapacity is the reference bound on the event channel (spec
// §5): large enough to absorb a burst from several connections without
// back-pressuring their readers on every single command.
const DefaultQueueCapacity = 32

type client struct {
	addr   string
	writer func([]byte) error
}

// Loop owns the keyspace, replication state, and the set of connected
// clients. It is constructed once and run on a dedicated goroutine via Run.
type Loop struct {
	events chan Event
	log    *zap.SugaredLogger

	store  *store.Store
	repl   *replstate.State
	config config.Config

	clients          map[uint64]*client
	clientAddrToID   map[string]uint64
	replicaClientIDs map[uint64]bool
}

// New returns a Loop ready to Run. st and repl are typically freshly
// constructed or seeded from a loaded snapshot before the loop starts.
func New(st *store.Store, repl *replstate.State, cfg config.Config, log *zap.SugaredLogger) *Loop {
	return &Loop{
		events:           make(chan Event, DefaultQueueCapacity),
		log:              log,
		store:            st,
		repl:             repl,
		config:           cfg,
		clients:          make(map[uint64]*client),
		clientAddrToID:   make(map[string]uint64),
		replicaClientIDs: make(map[uint64]bool),
	}
}

// Events returns the channel producers must send Events to. Closing it is
// the signal for Run to return.
func (l *Loop) Events() chan<- Event { return l.events }

// Run drains the event channel until it is closed, applying each event in
// order. This is the only goroutine allowed to read or write Store/State.
func (l *Loop) Run() {
	for ev := range l.events {
		l.apply(ev)
	}
}

func (l *Loop) apply(ev Event) {
	switch e := ev.(type) {
	case ClientConnected:
		l.clients[e.ClientID] = &client{addr: e.Addr, writer: e.Writer}
		l.clientAddrToID[e.Addr] = e.ClientID

	case ClientDisconnected:
		if c, ok := l.clients[e.ClientID]; ok {
			l.repl.UnregisterReplica(c.addr)
			delete(l.clientAddrToID, c.addr)
		}
		delete(l.clients, e.ClientID)
		delete(l.replicaClientIDs, e.ClientID)

	case CommandReceived:
		l.handleCommand(e)

	case SlaveConnected:
		l.repl.RegisterReplica(e.Addr)
		l.replicaClientIDs[e.ClientID] = true

	case SlaveDisconnected:
		l.repl.UnregisterReplica(e.Addr)

	default:
		if l.log != nil {
			l.log.Warnw("eventloop: unknown event type", "type", ev)
		}
	}
}

func (l *Loop) handleCommand(e CommandReceived) {
	deps := &executor.Deps{Store: l.store, Repl: l.repl, Config: l.config}
	result := executor.Execute(e.Command, deps)

	if e.ClientID != 0 {
		if c, ok := l.clients[e.ClientID]; ok {
			for _, chunk := range result.Writes {
				if err := c.writer(chunk); err != nil {
					if l.log != nil {
						l.log.Debugw("eventloop: write failed, dropping client", "client_id", e.ClientID, "err", err)
					}
					break
				}
			}
		}

		if len(e.Command.Args) > 0 && equalFoldFirst(e.Command, "REPLCONF", "LISTENING-PORT") {
			if c, ok := l.clients[e.ClientID]; ok {
				l.apply(SlaveConnected{ClientID: e.ClientID, Addr: c.addr})
			}
		}

		if len(e.Command.Args) > 2 && equalFoldFirst(e.Command, "REPLCONF", "ACK") {
			if c, ok := l.clients[e.ClientID]; ok {
				if offset, err := strconv.ParseInt(e.Command.Args[2], 10, 64); err == nil {
					l.repl.UpdateReplicaACK(c.addr, offset)
				}
			}
		}
	}

	// Propagation happens inside the same loop iteration that executed the
	// write, so replicas observe writes in exactly the order the primary
	// applied them — the same ordering guarantee the spec's conceptual
	// PropagateToReplicas event exists to express, without an unnecessary
	// channel round-trip back to the loop that is already the sender.
	if result.Propagate != nil {
		l.fanOutToReplicas(result.Propagate)
	}
}

func (l *Loop) fanOutToReplicas(message []byte) {
	for clientID := range l.replicaClientIDs {
		c, ok := l.clients[clientID]
		if !ok {
			continue
		}
		if err := c.writer(message); err != nil && l.log != nil {
			l.log.Debugw("eventloop: propagation write failed", "client_id", clientID, "err", err)
		}
	}
}

func equalFoldFirst(cmd *respwire.Command, name, sub string) bool {
	if len(cmd.Args) < 2 {
		return false
	}
	return foldEqual(cmd.Args[0], name) && foldEqual(cmd.Args[1], sub)
}

func foldEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
