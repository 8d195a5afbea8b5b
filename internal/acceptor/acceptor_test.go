package acceptor

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redisd/internal/config"
	"redisd/internal/eventloop"
	"redisd/internal/replstate"
	"redisd/internal/store"
)

func TestAcceptorServesPing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop := eventloop.New(store.New(), replstate.New(), config.Config{}, nil)
	go loop.Run()

	a := New(ln, loop.Events(), nil)
	go a.Run()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+PONG\r\n", reply)
}

func TestAcceptorClientDisconnectPublishesEvent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	events := make(chan eventloop.Event, 8)
	a := New(ln, events, nil)
	go a.Run()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	ev := <-events
	_, ok := ev.(eventloop.ClientConnected)
	require.True(t, ok)

	conn.Close()

	ev = <-events
	_, ok = ev.(eventloop.ClientDisconnected)
	require.True(t, ok)
}
