// Package rdbsnap decodes the binary snapshot (RDB-subset, spec C3) format
// used to seed the keyspace: either from a file at startup, or from the
// binary snapshot frame received during a replica's full resynchronization.
//
// Only string values are honored; other value-type bytes cause the entry to
// be skipped (logged, not fatal). The trailing CRC64 is read but never
// verified. Any I/O error aborts parsing and the caller keeps whatever
// partial keyspace was decoded so far.
package rdbsnap

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"redisd/internal/store"
)

const (
	magic = "REDIS"

	opAux        = 0xFA
	opSelectDB   = 0xFE
	opResizeDB   = 0xFB
	opExpireSecs = 0xFD
	opExpireMS   = 0xFC
	opEOF        = 0xFF

	typeString = 0x00
)

// ErrBadMagic is wrapped when the 5-byte magic header isn't "REDIS".
var ErrBadMagic = errors.New("rdbsnap: bad magic header")

// EmptySnapshot is the 10-byte payload representing an empty database:
// "REDIS0009" followed by the EOF opcode. These are the same bytes the
// executor sends (from its own copy) as PSYNC's FULLRESYNC payload.
var EmptySnapshot = []byte{'R', 'E', 'D', 'I', 'S', '0', '0', '0', '9', opEOF}

// Decode parses a full snapshot image from r, applying each decoded string
// entry to st. It returns the number of keys loaded and the first I/O error
// encountered, if any; entries decoded before an I/O error remain in st.
func Decode(r io.Reader, st *store.Store, log *zap.SugaredLogger) (int, error) {
	br := bufio.NewReader(r)

	header := make([]byte, 9)
	if _, err := io.ReadFull(br, header); err != nil {
		return 0, errors.Wrap(err, "read snapshot header")
	}
	if string(header[:5]) != magic {
		return 0, errors.Wrapf(ErrBadMagic, "got %q", header[:5])
	}

	loaded := 0
	var pendingExpire time.Time

	for {
		op, err := br.ReadByte()
		if err != nil {
			return loaded, errors.Wrap(err, "read opcode")
		}

		switch op {
		case opEOF:
			// Trailing 8-byte CRC64; read but never verified (spec §1, §4.3).
			crc := make([]byte, 8)
			io.ReadFull(br, crc) //nolint:errcheck // unverified by design
			return loaded, nil

		case opSelectDB:
			if _, err := br.ReadByte(); err != nil {
				return loaded, errors.Wrap(err, "read select-db index")
			}

		case opResizeDB:
			if _, _, err := readLength(br); err != nil {
				return loaded, errors.Wrap(err, "read resize-db hash size")
			}
			if _, _, err := readLength(br); err != nil {
				return loaded, errors.Wrap(err, "read resize-db expires size")
			}

		case opAux:
			if _, err := readLengthPrefixedString(br); err != nil {
				return loaded, errors.Wrap(err, "read aux key")
			}
			if err := skipLengthOrInt(br); err != nil {
				return loaded, errors.Wrap(err, "read aux value")
			}

		case opExpireSecs:
			var secs uint32
			if err := binary.Read(br, binary.LittleEndian, &secs); err != nil {
				return loaded, errors.Wrap(err, "read expire seconds")
			}
			pendingExpire = time.Unix(int64(secs), 0)

		case opExpireMS:
			var ms uint64
			if err := binary.Read(br, binary.LittleEndian, &ms); err != nil {
				return loaded, errors.Wrap(err, "read expire ms")
			}
			pendingExpire = time.UnixMilli(int64(ms))

		default:
			// Value-type byte for a key/value pair. Only string (0x00) is
			// honored; others are skipped without aborting parsing.
			key, err := readLengthPrefixedString(br)
			if err != nil {
				return loaded, errors.Wrap(err, "read key")
			}

			if op != typeString {
				if err := skipLengthOrInt(br); err != nil {
					return loaded, errors.Wrap(err, "skip unsupported value")
				}
				if log != nil {
					log.Infow("rdbsnap: skipping unsupported value type", "key", key, "type", op)
				}
				pendingExpire = time.Time{}
				continue
			}

			val, err := readLengthPrefixedString(br)
			if err != nil {
				return loaded, errors.Wrap(err, "read string value")
			}

			if !pendingExpire.IsZero() {
				st.Set(key, store.NewAbsolute([]byte(val), pendingExpire))
			} else {
				st.Set(key, store.NewRelative([]byte(val), 0))
			}
			pendingExpire = time.Time{}
			loaded++
		}
	}
}

// readLength decodes the length-or-integer byte per spec §4.3: the top two
// bits of the first byte select 6-bit, 14-bit, 32-bit length forms, or (in
// the 11xxxxxx case) a special integer encoding. isInt reports the latter.
func readLength(r *bufio.Reader) (length uint32, isInt bool, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch first >> 6 {
	case 0b00:
		return uint32(first & 0x3F), false, nil

	case 0b01:
		second, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint32(first&0x3F)<<8 | uint32(second), false, nil

	case 0b10:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, false, err
		}
		return binary.LittleEndian.Uint32(buf), false, nil

	default: // 0b11: special integer encoding, length field selects which
		return uint32(first & 0x3F), true, nil
	}
}

// readIntEncoding reads the integer payload for a length-or-integer byte
// whose top bits were 11xxxxxx: 0 -> u8, 1 -> u16 LE, 2 -> u32 LE.
func readIntEncoding(r *bufio.Reader, selector uint32) (string, error) {
	switch selector {
	case 0:
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(b), 10), nil
	case 1:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(binary.LittleEndian.Uint16(buf)), 10), nil
	case 2:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(binary.LittleEndian.Uint32(buf)), 10), nil
	default:
		return "", errors.Errorf("unsupported special-int encoding %d", selector)
	}
}

func readLengthPrefixedString(r *bufio.Reader) (string, error) {
	length, isInt, err := readLength(r)
	if err != nil {
		return "", err
	}
	if isInt {
		return readIntEncoding(r, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

// skipLengthOrInt consumes a metadata value that may be either a
// length-prefixed string or a length-encoded integer, per spec §4.3.
func skipLengthOrInt(r *bufio.Reader) error {
	_, err := readLengthPrefixedString(r)
	return err
}
