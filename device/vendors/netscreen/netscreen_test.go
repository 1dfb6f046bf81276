package netscreen

import (
	"regexp"
	"testing"
	"time"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

type scriptedTransport struct {
	expects []scriptedExpect
	writes  []string
}

type scriptedExpect struct {
	idx int
	err error
}

func (s *scriptedTransport) Connect(string, int, transport.Credential, time.Duration) error {
	return nil
}

func (s *scriptedTransport) Write(data []byte) error {
	s.writes = append(s.writes, string(data))
	return nil
}

func (s *scriptedTransport) Expect(patterns []*regexp.Regexp, timeout time.Duration) (int, []byte, []byte, []byte, error) {
	if len(s.expects) == 0 {
		return -1, nil, nil, nil, transport.ErrTimeout
	}
	next := s.expects[0]
	s.expects = s.expects[1:]
	return next.idx, nil, nil, nil, next.err
}

func (s *scriptedTransport) Disconnect() error { return nil }

func TestLogoutDeclinesSavePrompt(t *testing.T) {
	tr := &scriptedTransport{expects: []scriptedExpect{
		{idx: 0}, // Configuration modified, save?
	}}
	logout(tr, device.DefaultTimeouts())
	want := []string{"exit\n", "n"}
	if len(tr.writes) != 2 || tr.writes[0] != want[0] || tr.writes[1] != want[1] {
		t.Fatalf("writes = %q, want %q", tr.writes, want)
	}
}

func TestLogoutToleratesCleanExit(t *testing.T) {
	tr := &scriptedTransport{expects: []scriptedExpect{
		{idx: -1, err: transport.ErrStreamClosed}, // peer closed straight away
	}}
	logout(tr, device.DefaultTimeouts())
	if len(tr.writes) != 1 || tr.writes[0] != "exit\n" {
		t.Fatalf("writes = %q, want just the exit command", tr.writes)
	}
}
