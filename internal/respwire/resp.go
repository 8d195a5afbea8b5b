// Package respwire implements the RESP wire protocol subset used by this
// server (spec C2): simple strings, errors, bulk strings, arrays, and the
// out-of-band binary snapshot frame sent after FULLRESYNC.
//
// Decoder maintains a rolling byte buffer across Feed calls so a command
// split across multiple TCP reads still yields exactly once, in full, the
// moment its bytes complete.
package respwire

import (
	"strconv"

	"github.com/pkg/errors"
)

// ErrProtocol is wrapped by every structural decode failure inside an
// array frame: bad element prefix, non-numeric length, missing terminator.
// Input that does not start with '*' is not rejected: it is parsed as an
// inline command, and only an empty inline line is an error.
var ErrProtocol = errors.New("resp: protocol error")

// Command is a single client request: always an array of bulk strings on
// the wire, or (RESP inline convenience) a bare whitespace-split line.
type Command struct {
	Args []string
}

// Decoder incrementally parses a byte stream into Commands. One Decoder is
// owned by exactly one connection's reader task; it is never shared.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends freshly-read bytes to the internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next attempts to parse one complete command from the front of the
// buffer. It returns (cmd, true, nil) on success, consuming those bytes;
// (nil, false, nil) if the buffer holds only a partial frame so far; or
// (nil, false, err) on a structural protocol error, in which case the
// caller should report the error to the client and close the connection.
func (d *Decoder) Next() (*Command, bool, error) {
	if len(d.buf) == 0 {
		return nil, false, nil
	}

	switch d.buf[0] {
	case '*':
		return d.nextArray()
	default:
		return d.nextInline()
	}
}

func (d *Decoder) nextInline() (*Command, bool, error) {
	idx := indexByte(d.buf, '\n')
	if idx == -1 {
		return nil, false, nil
	}
	line := trimCRLF(d.buf[:idx+1])
	d.buf = d.buf[idx+1:]
	args := splitFields(line)
	if len(args) == 0 {
		return nil, false, errors.Wrap(ErrProtocol, "empty inline command")
	}
	return &Command{Args: args}, true, nil
}

// nextArray parses "*<count>\r\n" followed by <count> bulk strings. It never
// consumes partial input: on insufficient buffered bytes it returns
// (nil, false, nil) leaving d.buf untouched.
func (d *Decoder) nextArray() (*Command, bool, error) {
	pos := 0

	count, next, ok, err := readLineInt(d.buf, pos)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	pos = next

	if count < 0 {
		return nil, false, errors.Wrapf(ErrProtocol, "invalid array length: %d", count)
	}

	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(d.buf) {
			return nil, false, nil
		}
		if d.buf[pos] != '$' {
			return nil, false, errors.Wrapf(ErrProtocol, "expected bulk string, got %q", d.buf[pos])
		}

		length, next, ok, err := readLineInt(d.buf, pos)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		pos = next

		if length < 0 {
			args = append(args, "")
			continue
		}

		if len(d.buf) < pos+length+2 {
			return nil, false, nil
		}
		data := d.buf[pos : pos+length]
		pos += length
		if d.buf[pos] != '\r' || d.buf[pos+1] != '\n' {
			return nil, false, errors.Wrap(ErrProtocol, "missing bulk string terminator")
		}
		pos += 2

		args = append(args, string(data))
	}

	d.buf = d.buf[pos:]
	return &Command{Args: args}, true, nil
}

// readLineInt reads a "<prefix-byte><digits>\r\n" token starting at pos and
// returns the parsed integer, the buffer offset just past the CRLF, whether
// a complete line was available, and any structural error.
func readLineInt(buf []byte, pos int) (int, int, bool, error) {
	idx := indexByte(buf[pos:], '\n')
	if idx == -1 {
		return 0, 0, false, nil
	}
	end := pos + idx + 1
	line := trimCRLF(buf[pos:end])
	if len(line) < 2 {
		return 0, 0, false, errors.Wrap(ErrProtocol, "short length line")
	}
	n, err := strconv.Atoi(string(line[1:]))
	if err != nil {
		return 0, 0, false, errors.Wrapf(ErrProtocol, "non-numeric length %q", line[1:])
	}
	return n, end, true, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func trimCRLF(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

func splitFields(b []byte) []string {
	var out []string
	start := -1
	for i, c := range b {
		isSpace := c == ' ' || c == '\t'
		if isSpace {
			if start != -1 {
				out = append(out, string(b[start:i]))
				start = -1
			}
		} else if start == -1 {
			start = i
		}
	}
	if start != -1 {
		out = append(out, string(b[start:]))
	}
	return out
}
