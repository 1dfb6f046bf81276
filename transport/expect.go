package transport

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"time"
)

// genericExpectReader implements expect-style incremental regex matching
// over a plain io.Reader. There is no Go library anywhere in the
// reference pack for driving a raw Telnet or subprocess-SSH stream this
// way (goexpect only attaches to golang.org/x/crypto/ssh or os/exec
// sessions it spawns itself), so Telnet and command-line SSH share this
// hand-rolled reader instead.
type genericExpectReader struct {
	r       io.Reader
	buf     bytes.Buffer
	chunk   [4096]byte
	readCh  chan readResult
	pending bool
}

type readResult struct {
	n   int
	err error
}

func newGenericExpectReader(r io.Reader) *genericExpectReader {
	return &genericExpectReader{r: r, readCh: make(chan readResult, 1)}
}

// Expect blocks until one of patterns matches buffered input, the stream
// closes, or timeout elapses. On a match the matched bytes (and anything
// preceding them) are consumed from the internal buffer; trailing bytes
// are kept for the next call.
//
// A read left in flight past a timeout is not abandoned: the same
// goroutine is awaited by the next call instead of starting a second one,
// since two goroutines racing Read into the shared chunk buffer would
// corrupt it.
func (g *genericExpectReader) Expect(patterns []*regexp.Regexp, timeout time.Duration) (idx int, before, match, after []byte, err error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if i, b, m, a, ok := scanPatterns(g.buf.Bytes(), patterns); ok {
			g.buf.Next(len(b) + len(m))
			return i, b, m, a, nil
		}

		if !g.pending {
			g.pending = true
			go func() {
				n, err := g.r.Read(g.chunk[:])
				g.readCh <- readResult{n, err}
			}()
		}

		select {
		case res := <-g.readCh:
			g.pending = false
			if res.n > 0 {
				g.buf.Write(g.chunk[:res.n])
			}
			if res.err != nil {
				if res.err == io.EOF {
					return -1, append([]byte(nil), g.buf.Bytes()...), nil, nil, ErrStreamClosed
				}
				return -1, append([]byte(nil), g.buf.Bytes()...), nil, nil, fmt.Errorf("transport read: %w", res.err)
			}
		case <-deadline.C:
			return -1, append([]byte(nil), g.buf.Bytes()...), nil, nil, ErrTimeout
		}
	}
}

// scanPatterns finds the earliest match across patterns, preferring the
// lowest-indexed pattern on a tie, matching expect(1) semantics.
func scanPatterns(data []byte, patterns []*regexp.Regexp) (idx int, before, match, after []byte, ok bool) {
	bestPos := -1
	bestIdx := -1
	var bestLoc []int
	for i, p := range patterns {
		loc := p.FindIndex(data)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos {
			bestPos = loc[0]
			bestIdx = i
			bestLoc = loc
		}
	}
	if bestIdx == -1 {
		return 0, nil, nil, nil, false
	}
	b := append([]byte(nil), data[:bestLoc[0]]...)
	m := append([]byte(nil), data[bestLoc[0]:bestLoc[1]]...)
	a := append([]byte(nil), data[bestLoc[1]:]...)
	return bestIdx, b, m, a, true
}
