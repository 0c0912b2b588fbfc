// Package proto implements the line codec for the meta-protocol: every
// control message is one whitespace-delimited ASCII line starting with a
// numeric opcode. The only exception is the TCP fallback payload, which
// follows its PACKET header line as raw bytes and is framed by pkg/meta.
package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version this node announces in the identifier
// exchange and in the top byte of its options bit-field.
const Version = 10

// Opcode identifies a meta-protocol request type.
type Opcode int

const (
	// OpID is the plaintext identifier exchange sent first on every new
	// meta-channel. Opcodes 1..4 are reserved for a future authenticated
	// session setup and are rejected by the dispatcher.
	OpID Opcode = 0

	OpStatus  Opcode = 5
	OpError   Opcode = 6
	OpTermReq Opcode = 7
	OpPing    Opcode = 8
	OpPong    Opcode = 9

	OpPacket  Opcode = 17
	OpUDPInfo Opcode = 18
)

func (o Opcode) String() string {
	switch o {
	case OpID:
		return "ID"
	case OpStatus:
		return "STATUS"
	case OpError:
		return "ERROR"
	case OpTermReq:
		return "TERMREQ"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	case OpPacket:
		return "PACKET"
	case OpUDPInfo:
		return "UDP_INFO"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}

// MaxStringLen caps a single string field. Longer fields are truncated on
// encode and on decode, never rejected.
const MaxStringLen = 2048

// MaxPacketLen is the largest fallback payload a PACKET header may declare.
// The wire field is a signed 16-bit length.
const MaxPacketLen = 32767

// Request is one decoded meta-protocol line. Fields holds the
// whitespace-delimited tokens after the opcode.
type Request struct {
	Op     Opcode
	Fields []string
}

// Decode parses a single line into a Request. The line must start with a
// numeric opcode token; trailing newline characters are ignored.
func Decode(line string) (Request, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Request{}, fmt.Errorf("empty request")
	}
	op, err := strconv.Atoi(tokens[0])
	if err != nil {
		return Request{}, fmt.Errorf("bad opcode %q", tokens[0])
	}
	return Request{Op: Opcode(op), Fields: tokens[1:]}, nil
}

// Int returns field i as an integer.
func (r *Request) Int(i int) (int, bool) {
	if i < 0 || i >= len(r.Fields) {
		return 0, false
	}
	n, err := strconv.Atoi(r.Fields[i])
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns field i, truncated to MaxStringLen.
func (r *Request) String(i int) (string, bool) {
	if i < 0 || i >= len(r.Fields) {
		return "", false
	}
	s := r.Fields[i]
	if len(s) > MaxStringLen {
		s = s[:MaxStringLen]
	}
	return s, true
}

// Encode formats an outgoing request line. Supported field types are int,
// int16 and string; string fields are truncated to MaxStringLen. The line
// carries no terminator; the framing layer appends it.
func Encode(op Opcode, fields ...any) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(op)))
	for _, f := range fields {
		b.WriteByte(' ')
		switch v := f.(type) {
		case int:
			b.WriteString(strconv.Itoa(v))
		case int16:
			b.WriteString(strconv.Itoa(int(v)))
		case string:
			if len(v) > MaxStringLen {
				v = v[:MaxStringLen]
			}
			b.WriteString(v)
		default:
			b.WriteString(fmt.Sprint(v))
		}
	}
	return b.String()
}

// CheckID reports whether name is a valid node identifier: nonempty,
// made of ASCII letters, digits and underscores.
func CheckID(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
