// Package executor implements the command executor (spec C5): a pure
// dispatch from a parsed command and the shared server state to a response
// sequence and an optional propagation side-effect. It never touches a
// socket or the event queue directly — it is always invoked from inside the
// single event-loop goroutine that already owns the keyspace and
// replication state it reads and writes.
package executor

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"redisd/internal/config"
	"redisd/internal/replstate"
	"redisd/internal/respwire"
	"redisd/internal/store"
)

// Sentinel argument errors, grounded on the original implementation's
// command_parser.rs distinction between a structural parse error (handled in
// respwire) and an argument error (right frame, wrong arity/value) — see
// SPEC_FULL.md §4.
var (
	ErrWrongArity = errors.New("wrong number of arguments")
	ErrBadOption  = errors.New("syntax error")
)

// Deps bundles the shared state a command may read or write. All fields are
// owned by the event loop; Execute must only be called from that goroutine.
type Deps struct {
	Store  *store.Store
	Repl   *replstate.State
	Config config.Config
	Now    func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Result is everything a command execution produces: one or more byte
// chunks to write back to the client verbatim and in order (PSYNC's
// FULLRESYNC path writes a simple-string line followed by a binary
// snapshot frame), and an optional RESP-encoded command to fan out to every
// registered replica.
type Result struct {
	Writes    [][]byte
	Propagate []byte // nil unless this command must be replicated
}

func single(b []byte) Result { return Result{Writes: [][]byte{b}} }

// Execute dispatches cmd against deps. clientID 0 denotes the reserved
// "from-primary" channel a replica uses to apply commands it received
// during streaming; responses are still computed but the event loop
// suppresses writing them back (spec §4.6).
func Execute(cmd *respwire.Command, deps *Deps) Result {
	if cmd == nil || len(cmd.Args) == 0 {
		return single(respwire.Error("ERR empty command"))
	}

	name := strings.ToUpper(cmd.Args[0])
	args := cmd.Args[1:]

	switch name {
	case "PING":
		return single(respwire.SimpleString("PONG"))
	case "ECHO":
		return execEcho(args)
	case "GET":
		return execGet(args, deps)
	case "SET":
		return execSet(args, deps)
	case "KEYS":
		return execKeys(args, deps)
	case "CONFIG":
		return execConfig(args, deps)
	case "INFO":
		return execInfo(args, deps)
	case "REPLCONF":
		return execReplconf(args, deps)
	case "PSYNC":
		return execPsync(args, deps)
	default:
		return single(respwire.Error("ERR unknown command '" + cmd.Args[0] + "'"))
	}
}

func execEcho(args []string) Result {
	if len(args) != 1 {
		return single(argErr(ErrWrongArity, "ECHO"))
	}
	return single(respwire.BulkString(args[0]))
}

func execGet(args []string, deps *Deps) Result {
	if len(args) != 1 {
		return single(argErr(ErrWrongArity, "GET"))
	}
	e, ok := deps.Store.Get(args[0])
	if !ok || e.IsExpired(deps.now()) {
		return single(respwire.NullBulkString())
	}
	return single(respwire.BulkString(string(e.Value)))
}

// execSet implements SET key value [EX seconds | PX millis]. PX takes
// precedence over EX when both are given, per spec §4.5.
func execSet(args []string, deps *Deps) Result {
	if len(args) < 2 {
		return single(argErr(ErrWrongArity, "SET"))
	}
	key, value := args[0], args[1]

	var ttl time.Duration
	opts := args[2:]
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(opts[i]) {
		case "PX":
			if i+1 >= len(opts) {
				return single(argErr(ErrBadOption, "SET"))
			}
			ms, err := strconv.ParseInt(opts[i+1], 10, 64)
			if err != nil {
				return single(argErr(ErrBadOption, "SET"))
			}
			ttl = time.Duration(ms) * time.Millisecond
			i++
		case "EX":
			if i+1 >= len(opts) {
				return single(argErr(ErrBadOption, "SET"))
			}
			secs, err := strconv.ParseInt(opts[i+1], 10, 64)
			if err != nil {
				return single(argErr(ErrBadOption, "SET"))
			}
			if ttl == 0 {
				ttl = time.Duration(secs) * time.Second
			}
			i++
		default:
			return single(argErr(ErrBadOption, "SET"))
		}
	}

	deps.Store.Set(key, store.NewRelative([]byte(value), ttl))

	result := single(respwire.SimpleString("OK"))
	if deps.Repl.Role() == replstate.RolePrimary {
		result.Propagate = respwire.EncodeCommand(append([]string{"SET"}, args...))
	}
	return result
}

func execKeys(args []string, deps *Deps) Result {
	// The pattern argument is accepted but ignored in this spec (§4.5, §9).
	_ = args
	return single(respwire.Array(deps.Store.Keys()))
}

func execConfig(args []string, deps *Deps) Result {
	if len(args) != 2 || strings.ToUpper(args[0]) != "GET" {
		return single(argErr(ErrWrongArity, "CONFIG"))
	}
	name := args[1]
	val, ok := deps.Config[name]
	if !ok {
		return single(respwire.NullBulkString())
	}
	return single(respwire.Array([]string{name, val}))
}

func execInfo(args []string, deps *Deps) Result {
	if len(args) != 1 || !strings.EqualFold(args[0], "replication") {
		return single(respwire.NullBulkString())
	}
	return single(respwire.BulkString(deps.Repl.Info()))
}

// execReplconf implements REPLCONF listening-port / capa / GETACK, per
// spec §4.5.
func execReplconf(args []string, deps *Deps) Result {
	if len(args) < 1 {
		return single(argErr(ErrWrongArity, "REPLCONF"))
	}

	switch strings.ToUpper(args[0]) {
	case "LISTENING-PORT":
		// Registration itself happens in the event loop (it knows the
		// peer's real connection address, not just the announced port);
		// this only acknowledges.
		return single(respwire.SimpleString("OK"))
	case "CAPA":
		return single(respwire.SimpleString("OK"))
	case "GETACK":
		return single(respwire.Array([]string{"REPLCONF", "ACK", "0"}))
	case "ACK":
		return Result{} // no reply to an ACK
	default:
		return single(respwire.SimpleString("OK"))
	}
}

// execPsync implements PSYNC replid offset. A requested offset of -1 (or one
// that does not parse), or one below the primary's current offset, gets
// FULLRESYNC followed by the empty snapshot frame; any other offset gets
// +CONTINUE. The primary's offset is always 0 (§9), so only -1 or an
// unparsable offset leads to a full resync.
func execPsync(args []string, deps *Deps) Result {
	if len(args) != 2 {
		return single(argErr(ErrWrongArity, "PSYNC"))
	}

	requestedOffset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		requestedOffset = -1
	}

	if requestedOffset == -1 || requestedOffset < deps.Repl.ReplicationOffset() {
		header := respwire.SimpleString("FULLRESYNC " + deps.Repl.ReplicationID() + " " +
			strconv.FormatInt(deps.Repl.ReplicationOffset(), 10))
		frame := respwire.SnapshotFrame(buildEmptySnapshot())
		return Result{Writes: [][]byte{header, frame}}
	}
	return single(respwire.SimpleString("CONTINUE"))
}

// buildEmptySnapshot returns the 10-byte empty-snapshot payload (spec
// §4.5). Non-goals exclude persistence, so the primary never has a real
// on-disk snapshot to stream back here; it always sends the empty one.
func buildEmptySnapshot() []byte {
	return []byte{'R', 'E', 'D', 'I', 'S', '0', '0', '0', '9', 0xFF}
}

func argErr(sentinel error, cmdName string) []byte {
	if errors.Is(sentinel, ErrWrongArity) {
		return respwire.Error("ERR wrong number of arguments for '" + strings.ToLower(cmdName) + "' command")
	}
	return respwire.Error("ERR syntax error")
}
