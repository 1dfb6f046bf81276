package transport

import (
	"regexp"
	"testing"
	"time"

	"github.com/nanoncore/notch/apierrors"
)

// scriptedExpect is one canned response to an Expect call, in the order
// RunCommand is expected to issue them: flush, optional echo, then one
// call per pager/prompt cycle.
type scriptedExpect struct {
	idx          int
	before       string
	err          error
}

type fakeTransport struct {
	script  []scriptedExpect
	writes  []string
	callNum int
}

func (f *fakeTransport) Connect(string, int, Credential, time.Duration) error { return nil }

func (f *fakeTransport) Write(data []byte) error {
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeTransport) Expect(patterns []*regexp.Regexp, timeout time.Duration) (int, []byte, []byte, []byte, error) {
	if f.callNum >= len(f.script) {
		return -1, nil, nil, nil, ErrTimeout
	}
	s := f.script[f.callNum]
	f.callNum++
	if s.err != nil {
		return -1, []byte(s.before), nil, nil, s.err
	}
	return s.idx, []byte(s.before), nil, nil, nil
}

func (f *fakeTransport) Disconnect() error { return nil }

func baseOpts() CommandOptions {
	return CommandOptions{
		Prompt:         regexp.MustCompile(`Router#\s*$`),
		PagerResponse:  []byte(" "),
		CommandTrailer: "\n",
		ShortTimeout:   time.Second,
		LongTimeout:    time.Second,
	}
}

func TestRunCommandSimplePrompt(t *testing.T) {
	ft := &fakeTransport{script: []scriptedExpect{
		{idx: 0, before: ""},                     // flush finds the prompt
		{idx: 0, before: "interface state: up\n"}, // command output, then prompt
	}}
	out, err := RunCommand(ft, "show interface", baseOpts())
	if err != nil {
		t.Fatalf("RunCommand() error: %v", err)
	}
	if out != "interface state: up\n" {
		t.Errorf("output = %q", out)
	}
	if len(ft.writes) != 2 || ft.writes[1] != "show interface\n" {
		t.Errorf("unexpected writes: %v", ft.writes)
	}
}

func TestRunCommandPagedOutput(t *testing.T) {
	opts := baseOpts()
	opts.Pager = regexp.MustCompile(`--More--`)
	ft := &fakeTransport{script: []scriptedExpect{
		{idx: 0, before: ""},
		{idx: 1, before: "page one\n"}, // pager prompt
		{idx: 0, before: "page two\n"}, // final prompt
	}}
	out, err := RunCommand(ft, "show tech", opts)
	if err != nil {
		t.Fatalf("RunCommand() error: %v", err)
	}
	if out != "page one\npage two\n" {
		t.Errorf("output = %q", out)
	}
	// flush write, command write, pager response.
	if len(ft.writes) != 3 || ft.writes[2] != " " {
		t.Errorf("expected a pager response write, got %v", ft.writes)
	}
}

func TestRunCommandEOFMidCommandIsRetryable(t *testing.T) {
	ft := &fakeTransport{script: []scriptedExpect{
		{idx: 0, before: ""},
		{err: ErrStreamClosed},
	}}
	_, err := RunCommand(ft, "show version", baseOpts())
	ae, ok := apierrors.As(err)
	if !ok {
		t.Fatalf("expected *ApiError, got %T: %v", err, err)
	}
	if ae.Kind != apierrors.KindCommand || !ae.Retry {
		t.Errorf("expected retryable CommandError, got %+v", ae)
	}
}

func TestRunCommandTimeoutMidCommandIsNotRetryable(t *testing.T) {
	ft := &fakeTransport{script: []scriptedExpect{
		{idx: 0, before: ""},
		{err: ErrTimeout},
	}}
	_, err := RunCommand(ft, "show version", baseOpts())
	ae, ok := apierrors.As(err)
	if !ok {
		t.Fatalf("expected *ApiError, got %T: %v", err, err)
	}
	if ae.Kind != apierrors.KindCommand || ae.Retry {
		t.Errorf("expected non-retryable CommandError, got %+v", ae)
	}
}

func TestRunCommandFlushFailureIsRetryable(t *testing.T) {
	ft := &fakeTransport{script: []scriptedExpect{
		{err: ErrTimeout},
	}}
	_, err := RunCommand(ft, "show version", baseOpts())
	ae, ok := apierrors.As(err)
	if !ok {
		t.Fatalf("expected *ApiError, got %T: %v", err, err)
	}
	if !ae.Retry {
		t.Errorf("expected flush failure to be retryable, got %+v", ae)
	}
}
