package respwire

import "fmt"

// SimpleString encodes "+<text>\r\n".
func SimpleString(s string) []byte {
	return []byte(fmt.Sprintf("+%s\r\n", s))
}

// Error encodes "-<text>\r\n".
func Error(s string) []byte {
	return []byte(fmt.Sprintf("-%s\r\n", s))
}

// BulkString encodes "$<len>\r\n<bytes>\r\n".
func BulkString(s string) []byte {
	return []byte(fmt.Sprintf("$%d\r\n%s\r\n", len(s), s))
}

// NullBulkString encodes the null bulk string "$-1\r\n".
func NullBulkString() []byte {
	return []byte("$-1\r\n")
}

// Array encodes an array of bulk strings.
func Array(items []string) []byte {
	out := []byte(fmt.Sprintf("*%d\r\n", len(items)))
	for _, item := range items {
		out = append(out, BulkString(item)...)
	}
	return out
}

// EncodeCommand encodes args as the RESP array of bulk strings a client
// would send. Used by SET propagation (spec §4.5): the exact bytes handed
// to replicas are this encoding of the original command.
func EncodeCommand(args []string) []byte {
	return Array(args)
}

// SnapshotFrame encodes a binary snapshot frame: "$<len>\r\n<len bytes>",
// identical to a bulk string but without the trailing CRLF. Used only in
// the FULLRESYNC response.
func SnapshotFrame(payload []byte) []byte {
	return append([]byte(fmt.Sprintf("$%d\r\n", len(payload))), payload...)
}
