// Command redisd runs a single redisd node: a minimal, event-driven,
// RESP-compatible key-value server that can run standalone or as a
// replica of another redisd (or compatible) primary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"redisd/internal/config"
	"redisd/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dir        string
		dbFilename string
		port       int
		replicaOf  string
	)

	pflag.StringVar(&dir, "dir", "", "directory containing the snapshot file")
	pflag.StringVar(&dbFilename, "dbfilename", "dump.rdb", "snapshot file name")
	pflag.IntVar(&port, "port", 6379, "TCP port to listen on")
	pflag.StringVar(&replicaOf, "replicaof", "", `upstream primary as "<host> <port>"`)
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "redisd: failed to build logger:", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Sugar()

	cfg := config.Config{
		config.KeyDir:        dir,
		config.KeyDBFilename: dbFilename,
		config.KeyPort:       fmt.Sprint(port),
	}

	if replicaOf != "" {
		host, replicaPort, ok := parseReplicaOf(replicaOf)
		if !ok {
			log.Errorw("redisd: invalid --replicaof value", "value", replicaOf)
			return 1
		}
		cfg[config.KeyReplicaOfHost] = host
		cfg[config.KeyReplicaOfPort] = replicaPort
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Errorw("redisd: failed to start", "err", err)
		return 1
	}

	log.Infow("redisd: listening", "addr", srv.Addr().String())
	srv.Run()
	return 0
}

// parseReplicaOf splits "<host> <port>" the way --replicaof is conventionally
// passed to a Redis-compatible server.
func parseReplicaOf(s string) (host, port string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
