package rdbsnap

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redisd/internal/store"
)

func TestDecodeEmptySnapshot(t *testing.T) {
	st := store.New()
	n, err := Decode(bytes.NewReader(EmptySnapshot), st, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 0, st.Len())
}

func buildSnapshot(t *testing.T, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("REDIS0009")
	buf.Write(body)
	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8)) // unverified CRC64
	return buf.Bytes()
}

func lengthPrefixed(s string) []byte {
	out := []byte{byte(len(s))}
	return append(out, []byte(s)...)
}

func TestDecodeStringWithExpiryMS(t *testing.T) {
	now := time.Now()
	expireAt := now.Add(10 * time.Second)

	var body bytes.Buffer
	body.WriteByte(opExpireMS)
	binary.Write(&body, binary.LittleEndian, uint64(expireAt.UnixMilli()))
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("foo"))
	body.Write(lengthPrefixed("bar"))

	snap := buildSnapshot(t, body.Bytes())

	st := store.New()
	n, err := Decode(bytes.NewReader(snap), st, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	e, ok := st.Get("foo")
	require.True(t, ok)
	require.Equal(t, "bar", string(e.Value))
	require.False(t, e.IsExpired(now))
	require.True(t, e.IsExpired(expireAt.Add(time.Second)))
}

func TestDecodeSkipsUnsupportedType(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(0x02) // set type, unsupported
	body.Write(lengthPrefixed("akey"))
	body.Write(lengthPrefixed("member"))

	snap := buildSnapshot(t, body.Bytes())

	st := store.New()
	n, err := Decode(bytes.NewReader(snap), st, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	_, ok := st.Get("akey")
	require.False(t, ok)
}

func TestDecodeBadMagic(t *testing.T) {
	st := store.New()
	_, err := Decode(bytes.NewReader([]byte("NOTREDIS9")), st, nil)
	require.Error(t, err)
}

func TestDecodeSelectDBAndResizeDB(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(opSelectDB)
	body.WriteByte(0)
	body.WriteByte(opResizeDB)
	body.WriteByte(1) // 6-bit length: 1 entry
	body.WriteByte(0) // 6-bit length: 0 expires
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("k"))
	body.Write(lengthPrefixed("v"))

	snap := buildSnapshot(t, body.Bytes())

	st := store.New()
	n, err := Decode(bytes.NewReader(snap), st, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
