// Package acceptor owns the listening socket (spec C7): it accepts
// connections and spawns one reader goroutine per connection. Each reader
// only ever decodes bytes and publishes Events; it never mutates shared
// state directly. Client ids are a monotonic counter, never derived from
// the peer's address or port — the teacher's port-derived id scheme is a
// known defect this rewrite avoids (spec §9).
package acceptor

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"redisd/internal/eventloop"
	"redisd/internal/respwire"
)

const readBufferSize = 4096

// Acceptor runs the accept loop for a single listener.
type Acceptor struct {
	listener net.Listener
	events   chan<- eventloop.Event
	log      *zap.SugaredLogger
	nextID   atomic.Uint64
}

// New wraps an already-bound listener. Use net.Listen("tcp", addr) to
// create one; binding is the caller's responsibility so startup failures
// surface before any goroutine is spawned.
func New(listener net.Listener, events chan<- eventloop.Event, log *zap.SugaredLogger) *Acceptor {
	return &Acceptor{listener: listener, events: events, log: log}
}

// Run accepts connections until the listener is closed, spawning a reader
// goroutine for each. It returns when Accept fails (typically because the
// listener was closed during shutdown).
func (a *Acceptor) Run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.log != nil {
				a.log.Infow("acceptor: listener closed", "err", err)
			}
			return
		}
		id := a.nextID.Add(1)
		go a.serve(id, conn)
	}
}

func (a *Acceptor) serve(id uint64, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	defer conn.Close()

	a.events <- eventloop.ClientConnected{
		ClientID: id,
		Addr:     addr,
		Writer: func(b []byte) error {
			_, err := conn.Write(b)
			return err
		},
	}
	defer func() { a.events <- eventloop.ClientDisconnected{ClientID: id} }()

	dec := respwire.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				cmd, ok, decErr := dec.Next()
				if decErr != nil {
					if a.log != nil {
						a.log.Debugw("acceptor: protocol error, closing connection", "client_id", id, "err", decErr)
					}
					return
				}
				if !ok {
					break
				}
				a.events <- eventloop.CommandReceived{ClientID: id, Command: cmd}
			}
		}
		if err != nil {
			return
		}
	}
}
