package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redisd/internal/config"
	"redisd/internal/replstate"
	"redisd/internal/respwire"
	"redisd/internal/store"
)

type recordingWriter struct {
	mu    sync.Mutex
	chunk [][]byte
}

func (w *recordingWriter) write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := append([]byte(nil), b...)
	w.chunk = append(w.chunk, cp)
	return nil
}

func (w *recordingWriter) snapshot() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.chunk...)
}

func newTestLoop() (*Loop, chan<- Event) {
	l := New(store.New(), replstate.New(), config.Config{}, nil)
	go l.Run()
	return l, l.Events()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestLoopClientConnectedAndPing(t *testing.T) {
	_, events := newTestLoop()
	w := &recordingWriter{}

	events <- ClientConnected{ClientID: 1, Addr: "127.0.0.1:1000", Writer: w.write}
	events <- CommandReceived{ClientID: 1, Command: &respwire.Command{Args: []string{"PING"}}}

	waitFor(t, func() bool { return len(w.snapshot()) == 1 })
	require.Equal(t, []byte("+PONG\r\n"), w.snapshot()[0])
}

func TestLoopSetPropagatesToRegisteredReplica(t *testing.T) {
	_, events := newTestLoop()

	client := &recordingWriter{}
	replica := &recordingWriter{}

	events <- ClientConnected{ClientID: 1, Addr: "10.0.0.1:9000", Writer: client.write}
	events <- ClientConnected{ClientID: 2, Addr: "10.0.0.2:9001", Writer: replica.write}
	events <- CommandReceived{ClientID: 2, Command: &respwire.Command{Args: []string{"REPLCONF", "listening-port", "9001"}}}

	waitFor(t, func() bool { return len(replica.snapshot()) == 1 })

	events <- CommandReceived{ClientID: 1, Command: &respwire.Command{Args: []string{"SET", "foo", "bar"}}}

	waitFor(t, func() bool { return len(replica.snapshot()) == 2 })
	require.Equal(t, []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"), replica.snapshot()[1])
}

func TestLoopReplconfAckUpdatesReplicaInfo(t *testing.T) {
	l, events := newTestLoop()

	replica := &recordingWriter{}
	events <- ClientConnected{ClientID: 3, Addr: "10.0.0.5:8000", Writer: replica.write}
	events <- CommandReceived{ClientID: 3, Command: &respwire.Command{Args: []string{"REPLCONF", "listening-port", "8000"}}}
	waitFor(t, func() bool { return len(replica.snapshot()) == 1 })

	events <- CommandReceived{ClientID: 3, Command: &respwire.Command{Args: []string{"REPLCONF", "ACK", "42"}}}

	waitFor(t, func() bool {
		for _, r := range l.repl.ListReplicas() {
			if r.Addr == "10.0.0.5:8000" && r.Offset == 42 {
				return true
			}
		}
		return false
	})
}

func TestLoopClientDisconnectedUnregistersReplica(t *testing.T) {
	l, events := newTestLoop()

	replica := &recordingWriter{}
	events <- ClientConnected{ClientID: 5, Addr: "10.0.0.9:7000", Writer: replica.write}
	events <- CommandReceived{ClientID: 5, Command: &respwire.Command{Args: []string{"REPLCONF", "listening-port", "7000"}}}
	waitFor(t, func() bool { return len(replica.snapshot()) == 1 })

	events <- ClientDisconnected{ClientID: 5}
	waitFor(t, func() bool {
		return len(l.repl.ListReplicas()) == 0
	})
}
