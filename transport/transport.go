// Package transport implements the regex-expect dialogue over a raw
// terminal stream (spec.md §4.1, component C1). A Transport is a minimal
// bidirectional byte stream with expect-style pattern matching; the
// higher-level command() algorithm is implemented once, generically, in
// RunCommand, and shared by all three concrete flavors (SSHv2 interactive,
// Telnet, command-line SSHv1) the way the teacher's cli/expect.go Execute
// method is shared by every vendor's CLI driver.
package transport

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nanoncore/notch/apierrors"
)

// ErrTimeout is returned by Expect when no pattern matched within the
// deadline — the spec's TIMEOUT sentinel.
var ErrTimeout = errors.New("transport: expect timeout")

// ErrStreamClosed is returned by Expect when the peer closed the stream
// before a pattern matched — the spec's EOF sentinel.
var ErrStreamClosed = errors.New("transport: stream closed (EOF)")

// Credential is the minimal view of a login record a Transport needs to
// open a connection. credentials.Credential satisfies this.
type Credential interface {
	GetUsername() string
	GetPassword() string
	GetSSHPrivateKey() []byte
	GetSSHPrivateKeyPath() string
}

// Transport is a bidirectional text stream with expect-style matching,
// per spec.md §4.1.
type Transport interface {
	// Connect opens the underlying channel to address, honoring
	// ConnectTimeout. Fails with an apierrors ConnectError.
	Connect(address string, port int, cred Credential, connectTimeout time.Duration) error

	// Write pushes raw bytes to the remote end. Fails with a CommandError.
	Write(data []byte) error

	// Expect waits for one of patterns, or EOF, or the timeout to elapse.
	// before/match/after are the scanned buffer split around the match.
	// idx is the index into patterns on a match, or -1 if err is
	// ErrStreamClosed/ErrTimeout.
	Expect(patterns []*regexp.Regexp, timeout time.Duration) (idx int, before, match, after []byte, err error)

	// Disconnect flushes and closes the channel. Best-effort: drivers that
	// call this tolerate and log errors rather than propagate them
	// (spec.md §9 Open Question (b)).
	Disconnect() error
}

// CommandOptions parameterizes RunCommand for one vendor's CLI dialect.
type CommandOptions struct {
	// Prompt matches the device's command prompt.
	Prompt *regexp.Regexp
	// Pager matches a paging prompt (e.g. "--More--"); nil disables
	// pager handling entirely.
	Pager *regexp.Regexp
	// PagerResponse is written back whenever Pager matches (typically a
	// single space).
	PagerResponse []byte
	// CommandTrailer is appended to the command and to the flush probe
	// (typically "\n").
	CommandTrailer string
	// ExpectCommandEcho, if true, consumes the echoed command line
	// before scanning for the prompt. Some devices (notably those that
	// expand abbreviated commands) echo something other than the literal
	// command, in which case the driver should set this false.
	ExpectCommandEcho bool
	// ShortTimeout bounds the flush probe and the echo consumption.
	ShortTimeout time.Duration
	// LongTimeout bounds waiting for the final prompt, where the device
	// may be producing a large amount of output.
	LongTimeout time.Duration
	// Sanitize strips ANSI escapes and normalizes CRLF in buffered
	// output as it accumulates (spec.md §4.1 Sanitization).
	Sanitize bool
}

// RunCommand implements the Transport.command() contract from spec.md §4.1:
// flush, send, optionally consume the echo, then loop consuming pager
// prompts until the command prompt reappears, returning everything
// buffered before the last occurrence of the prompt.
func RunCommand(t Transport, cmd string, opts CommandOptions) (string, error) {
	trailer := opts.CommandTrailer
	if trailer == "" {
		trailer = "\n"
	}

	// (1) Flush: send the trailer alone and expect the prompt so we start
	// from a known state. Any failure here (EOF or timeout) is retryable
	// per spec.md §8 Boundary behaviors ("a failed flush during prompt
	// discovery is retryable").
	if err := t.Write([]byte(trailer)); err != nil {
		return "", apierrors.Commandf(true, "flush write failed: %v", err)
	}
	if _, _, _, _, err := t.Expect([]*regexp.Regexp{opts.Prompt}, opts.ShortTimeout); err != nil {
		return "", apierrors.Commandf(true, "flush failed to find prompt: %v", err)
	}

	// (2) Send the command.
	if err := t.Write([]byte(cmd + trailer)); err != nil {
		return "", apierrors.Commandf(true, "command write failed: %v", err)
	}

	// (3) Optionally consume the echoed command line.
	if opts.ExpectCommandEcho {
		echoRE := regexp.MustCompile(regexp.QuoteMeta(cmd))
		if _, _, _, _, err := t.Expect([]*regexp.Regexp{echoRE}, opts.ShortTimeout); err != nil {
			return "", classifyMidCommand(err, "waiting for command echo")
		}
	}

	// (4) Loop: buffer data, answer pager prompts, stop at the real prompt.
	patterns := []*regexp.Regexp{opts.Prompt}
	pagerIdx := -1
	if opts.Pager != nil {
		pagerIdx = len(patterns)
		patterns = append(patterns, opts.Pager)
	}

	var buffered []byte
	for {
		idx, before, _, _, err := t.Expect(patterns, opts.LongTimeout)
		if err != nil {
			return string(buffered), classifyMidCommand(err, fmt.Sprintf("running %q", cmd))
		}
		if opts.Sanitize {
			before = SanitizeBytes(before)
		}
		buffered = append(buffered, before...)
		if idx == pagerIdx {
			if err := t.Write(opts.PagerResponse); err != nil {
				return string(buffered), apierrors.Commandf(true, "pager response write failed: %v", err)
			}
			continue
		}
		// idx == 0: prompt matched, command complete.
		return string(buffered), nil
	}
}

// classifyMidCommand implements the failure classification in spec.md
// §4.1/§8: EOF once the command has started is retryable, TIMEOUT is not.
func classifyMidCommand(err error, context string) error {
	switch {
	case errors.Is(err, ErrStreamClosed):
		return apierrors.Commandf(true, "%s: peer closed connection", context)
	case errors.Is(err, ErrTimeout):
		return apierrors.Commandf(false, "%s: timed out", context)
	default:
		return apierrors.Commandf(false, "%s: %v", context, err)
	}
}
