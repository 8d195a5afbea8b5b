// Package server assembles the event loop, acceptor, and (when configured)
// replica client into a running node, and owns startup/shutdown. This
// replaces the teacher's RedisServer, which wired the same concerns
// (listener, command handler, replication manager) around a mutex-guarded
// store instead of the single event-loop goroutine this spec requires.
package server

import (
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"redisd/internal/acceptor"
	"redisd/internal/config"
	"redisd/internal/eventloop"
	"redisd/internal/rdbsnap"
	"redisd/internal/replicaclient"
	"redisd/internal/replstate"
	"redisd/internal/store"
)

// Server owns the listener, the event loop, and (if replicating) the
// replica client goroutine.
type Server struct {
	cfg config.Config
	log *zap.SugaredLogger

	listener net.Listener
	loop     *eventloop.Loop
}

// New constructs a Server bound to the configured port. It also loads the
// on-disk snapshot named by dir/dbfilename, if present, exactly the way the
// teacher's loadRDB step seeds the store before accepting connections.
func New(cfg config.Config, log *zap.SugaredLogger) (*Server, error) {
	st := store.New()
	repl := replstate.New()

	if err := loadSnapshotFile(cfg, st, log); err != nil {
		return nil, errors.Wrap(err, "load snapshot file")
	}

	addr := net.JoinHostPort("127.0.0.1", cfg.Get(config.KeyPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	loop := eventloop.New(st, repl, cfg, log)

	s := &Server{cfg: cfg, log: log, listener: ln, loop: loop}

	if host := cfg.Get(config.KeyReplicaOfHost); host != "" {
		s.startReplication(host, cfg.Get(config.KeyReplicaOfPort), repl, st)
	}

	return s, nil
}

// Addr returns the bound listener address, useful for tests that bind to
// port 0.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run starts the event loop and accept loop. It blocks until the listener
// is closed by Shutdown.
func (s *Server) Run() {
	go s.loop.Run()

	a := acceptor.New(s.listener, s.loop.Events(), s.log)
	a.Run()
}

// Shutdown closes the listener, which causes Run's accept loop to return.
// In-flight connections are left to close on their own as their reader
// goroutines hit read errors; this spec carries no graceful-drain feature
// (Non-goals: no persistence means there is no final-save step to wait on).
func (s *Server) Shutdown() error {
	return s.listener.Close()
}

func (s *Server) startReplication(host, portStr string, repl *replstate.State, st *store.Store) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("server: invalid replicaof port, staying standalone primary", "port", portStr, "err", err)
		}
		return
	}
	repl.SetReplicaOf(host, port)

	listeningPort, _ := strconv.Atoi(s.cfg.Get(config.KeyPort))
	client := replicaclient.New(host, port, listeningPort, s.loop.Events(), st, s.log, repl.PromoteToPrimary)
	go client.Run()
}

func loadSnapshotFile(cfg config.Config, st *store.Store, log *zap.SugaredLogger) error {
	path := cfg.SnapshotPath()
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := rdbsnap.Decode(f, st, log)
	if err != nil {
		return err
	}
	if log != nil {
		log.Infow("server: loaded snapshot", "path", path, "keys", n)
	}
	return nil
}
