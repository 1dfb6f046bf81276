package nortel

import (
	"regexp"
	"testing"
	"time"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

type fakeCredential struct{}

func (fakeCredential) GetUsername() string          { return "fred" }
func (fakeCredential) GetPassword() string          { return "hunter2" }
func (fakeCredential) GetSSHPrivateKey() []byte     { return nil }
func (fakeCredential) GetSSHPrivateKeyPath() string { return "" }
func (fakeCredential) GetEnablePassword() string    { return "" }
func (fakeCredential) GetAutoEnable() bool          { return false }

// scriptedTransport returns one pre-scripted Expect result per call and
// records every Write, so a login hook's dialogue can be asserted
// without a peer.
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

func TestTelnetLoginRunsCtrlYMenuDance(t *testing.T) {
	tr := &scriptedTransport{expects: []scriptedExpect{
		{idx: 0}, // Enter Ctrl-Y to begin
		{idx: 0}, // Enter Password:
		{idx: 0}, // Command Line Interface menu option
		{idx: 0}, // prompt
	}}
	if err := login(tr, device.DefaultTimeouts(), fakeCredential{}, "telnet"); err != nil {
		t.Fatalf("login: %v", err)
	}
	want := []string{ctrlY, "hunter2\n", "C"}
	if len(tr.writes) != len(want) {
		t.Fatalf("writes = %q, want %q", tr.writes, want)
	}
	for i := range want {
		if tr.writes[i] != want[i] {
			t.Errorf("write %d = %q, want %q", i, tr.writes[i], want[i])
		}
	}
}

func TestTelnetLoginRejectsBadPassword(t *testing.T) {
	tr := &scriptedTransport{expects: []scriptedExpect{
		{idx: 0}, // Enter Ctrl-Y to begin
		{idx: 0}, // Enter Password:
		{idx: 1}, // Invalid Password
	}}
	err := login(tr, device.DefaultTimeouts(), fakeCredential{}, "telnet")
	ae, ok := apierrors.As(err)
	if !ok || ae.Kind != apierrors.KindConnect {
		t.Fatalf("got %v, want ConnectError", err)
	}
}

func TestLogoutConfirmsMenuKeystroke(t *testing.T) {
	tr := &scriptedTransport{expects: []scriptedExpect{
		{idx: 0}, // Logout.. banner: still in the menu, confirm with L
	}}
	logout(tr, device.DefaultTimeouts())
	want := []string{"logout\n", "L"}
	if len(tr.writes) != 2 || tr.writes[0] != want[0] || tr.writes[1] != want[1] {
		t.Fatalf("writes = %q, want %q", tr.writes, want)
	}
}
