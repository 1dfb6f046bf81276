package session

import (
	"encoding/base64"
	"regexp"
	"sync"
	"testing"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/credentials"
	"github.com/nanoncore/notch/device"
)

// fakeDriver is a minimal device.Driver double for exercising Session's
// connect/request/retry logic without a real transport.
type fakeDriver struct {
	mu sync.Mutex

	connectCalls    int
	disconnectCalls int
	commandCalls    int

	connectErr error
	commandErr []error // consumed in order, one per Command() call
}

func (f *fakeDriver) Connect(addresses []string, connectMethod string, cred device.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeDriver) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return nil
}

func (f *fakeDriver) Command(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.commandCalls
	f.commandCalls++
	if idx < len(f.commandErr) && f.commandErr[idx] != nil {
		return "", f.commandErr[idx]
	}
	return "ok:" + cmd, nil
}

func (f *fakeDriver) GetConfig(string) (string, error)        { return "", apierrors.NotImplemented("get_config") }
func (f *fakeDriver) SetConfig(string, string) error          { return apierrors.NotImplemented("set_config") }
func (f *fakeDriver) CopyFile(string, string, bool) error     { return apierrors.NotImplemented("copy_file") }
func (f *fakeDriver) UploadFile(string, string, bool) error   { return apierrors.NotImplemented("upload_file") }
func (f *fakeDriver) DownloadFile(string, string, bool) error { return apierrors.NotImplemented("download_file") }
func (f *fakeDriver) DeleteFile(string) error                 { return apierrors.NotImplemented("delete_file") }
func (f *fakeDriver) Lock() error                             { return apierrors.NotImplemented("lock") }
func (f *fakeDriver) Unlock() error                           { return apierrors.NotImplemented("unlock") }

var _ device.Driver = (*fakeDriver)(nil)

func cred() *credentials.Credential {
	return &credentials.Credential{
		RegexpString: "^.*$",
		Regexp:       regexp.MustCompile(`(?i)^.*$`),
		Username:     "fred",
		Password:     "hunter2",
	}
}

func TestConnectRequiresCredential(t *testing.T) {
	s := New("r1.example", []string{"10.0.0.1"}, &fakeDriver{})
	if err := s.Connect(); err == nil {
		t.Fatal("expected NoMatchingCredentialError with no credential assigned")
	} else if ae, ok := apierrors.As(err); !ok || ae.Kind != apierrors.KindNoMatchingCredential {
		t.Fatalf("got %v, want KindNoMatchingCredential", err)
	}
}

func TestConnectDisconnectIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	s := New("r1.example", []string{"10.0.0.1"}, drv)
	s.SetCredential(cred())

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if drv.connectCalls != 1 {
		t.Fatalf("connectCalls = %d, want 1 (connect while connected is a no-op)", drv.connectCalls)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if drv.disconnectCalls != 1 {
		t.Fatalf("disconnectCalls = %d, want 1", drv.disconnectCalls)
	}
}

func TestSetEqualCredentialIsNoop(t *testing.T) {
	drv := &fakeDriver{}
	s := New("r1.example", []string{"10.0.0.1"}, drv)
	s.SetCredential(cred())
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Equal credential (same field values) must not trigger a disconnect.
	s.SetCredential(cred())
	if drv.disconnectCalls != 0 {
		t.Fatalf("disconnectCalls = %d, want 0 for an equal credential reassignment", drv.disconnectCalls)
	}
}

func TestRequestAutoConnects(t *testing.T) {
	drv := &fakeDriver{}
	s := New("r1.example", []string{"10.0.0.1"}, drv)
	s.SetCredential(cred())

	out, err := s.Request("command", Args{Command: "show version"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if drv.connectCalls != 1 {
		t.Fatalf("connectCalls = %d, want 1 (auto-connect)", drv.connectCalls)
	}
	decoded, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		t.Fatalf("base64 decode %q: %v", out, err)
	}
	if string(decoded) != "ok:show version" {
		t.Fatalf("decoded result = %q", decoded)
	}
}

func TestRequestInvalidMethod(t *testing.T) {
	s := New("r1.example", []string{"10.0.0.1"}, &fakeDriver{})
	s.SetCredential(cred())
	if _, err := s.Request("reboot", Args{}); err == nil {
		t.Fatal("expected InvalidRequestError for an unknown method")
	} else if ae, ok := apierrors.As(err); !ok || ae.Kind != apierrors.KindInvalidRequest {
		t.Fatalf("got %v, want KindInvalidRequest", err)
	}
}

func TestRequestRetriesOnceOnEOF(t *testing.T) {
	drv := &fakeDriver{
		commandErr: []error{apierrors.Commandf(true, "peer closed connection"), nil},
	}
	s := New("r1.example", []string{"10.0.0.1"}, drv)
	s.SetCredential(cred())

	out, err := s.Request("command", Args{Command: "show version"})
	if err != nil {
		t.Fatalf("Request: %v (expected the single retry to succeed)", err)
	}
	if drv.commandCalls != 2 {
		t.Fatalf("commandCalls = %d, want 2 (one retry)", drv.commandCalls)
	}
	if drv.connectCalls != 2 {
		t.Fatalf("connectCalls = %d, want 2 (initial connect + reconnect before retry)", drv.connectCalls)
	}
	decoded, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		t.Fatalf("base64 decode %q: %v", out, err)
	}
	if string(decoded) != "ok:show version" {
		t.Fatalf("decoded result = %q", decoded)
	}
}

func TestRequestSecondFailurePropagates(t *testing.T) {
	eof := apierrors.Commandf(true, "peer closed connection")
	drv := &fakeDriver{commandErr: []error{eof, eof}}
	s := New("r1.example", []string{"10.0.0.1"}, drv)
	s.SetCredential(cred())

	_, err := s.Request("command", Args{Command: "show version"})
	if err == nil {
		t.Fatal("expected the second EOF to propagate as an error")
	}
	if drv.commandCalls != 2 {
		t.Fatalf("commandCalls = %d, want 2 (no third attempt)", drv.commandCalls)
	}
}
