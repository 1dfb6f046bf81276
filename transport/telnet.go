package transport

import (
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/nanoncore/notch/apierrors"
)

// Telnet IAC negotiation bytes (RFC 854/855). No Telnet client exists
// anywhere in the reference pack, so this negotiation is hand-rolled
// directly against a net.Conn, the same stdlib the teacher's NETCONF
// driver uses for its own raw framing.
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240
)

// Telnet is a raw-TCP Transport that negotiates itself into character
// mode and otherwise behaves like a dumb terminal, per spec.md §4.1.
type Telnet struct {
	conn net.Conn
	rd   *genericExpectReader
}

func NewTelnet() *Telnet {
	return &Telnet{}
}

func (t *Telnet) Connect(address string, port int, cred Credential, connectTimeout time.Duration) error {
	target := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", target, connectTimeout)
	if err != nil {
		return apierrors.Connectw(err, "dialing %s over telnet: %v", target, err)
	}
	t.conn = conn
	t.rd = newGenericExpectReader(&iacStrippingReader{conn: conn})
	return nil
}

func (t *Telnet) Write(data []byte) error {
	if t.conn == nil {
		return apierrors.Commandf(false, "telnet write on unconnected transport")
	}
	if _, err := t.conn.Write(data); err != nil {
		return apierrors.Commandf(true, "telnet write failed: %v", err)
	}
	return nil
}

func (t *Telnet) Expect(patterns []*regexp.Regexp, timeout time.Duration) (int, []byte, []byte, []byte, error) {
	return t.rd.Expect(patterns, timeout)
}

func (t *Telnet) Disconnect() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// iacStrippingReader wraps a net.Conn, answering Telnet option
// negotiation with DONT/WONT to everything (refusing all options keeps
// the session in plain character mode, which is all the CLI dialogue
// needs) and stripping IAC sequences out of the data handed to callers.
type iacStrippingReader struct {
	conn net.Conn
}

func (r *iacStrippingReader) Read(p []byte) (int, error) {
	raw := make([]byte, len(p))
	n, err := r.conn.Read(raw)
	if n == 0 {
		return 0, err
	}

	out := p[:0]
	for i := 0; i < n; i++ {
		b := raw[i]
		if b != iac {
			out = append(out, b)
			continue
		}
		// IAC command; consume and, for option negotiation, reply.
		if i+1 >= n {
			break
		}
		cmd := raw[i+1]
		switch cmd {
		case do, dont, will, wont:
			if i+2 >= n {
				i++
				break
			}
			option := raw[i+2]
			r.reply(cmd, option)
			i += 2
		case sb:
			// Subnegotiation: skip through IAC SE.
			j := i + 2
			for j+1 < n && !(raw[j] == iac && raw[j+1] == se) {
				j++
			}
			i = j + 1
		case iac:
			out = append(out, iac)
			i++
		default:
			i++
		}
	}
	return len(out), err
}

func (r *iacStrippingReader) reply(cmd, option byte) {
	var response byte
	switch cmd {
	case do:
		response = wont
	case will:
		response = dont
	default:
		return
	}
	r.conn.Write([]byte{iac, response, option})
}
