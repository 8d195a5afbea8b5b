package respwire

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// ReadSnapshotFrame reads a binary snapshot frame from r: a '$', an ASCII
// decimal length, "\r\n", then exactly that many bytes with NO trailing
// CRLF. Decoders on the replica side must consume exactly length bytes and
// must not search for a terminating CRLF inside the payload, since the
// payload is arbitrary binary data that may itself contain "\r\n".
func ReadSnapshotFrame(r *bufio.Reader) ([]byte, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot frame prefix")
	}
	if prefix != '$' {
		return nil, errors.Wrapf(ErrProtocol, "expected '$', got %q", prefix)
	}

	lengthLine, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot frame length")
	}
	lengthLine = string(trimCRLF([]byte(lengthLine)))

	length, err := strconv.Atoi(lengthLine)
	if err != nil {
		return nil, errors.Wrapf(ErrProtocol, "invalid snapshot frame length %q", lengthLine)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read snapshot frame payload")
	}
	return payload, nil
}
