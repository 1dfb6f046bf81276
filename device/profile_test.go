package device

import (
	"errors"
	"net"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/transport"
)

// fakeCredential is a minimal device.Credential double.
type fakeCredential struct{}

func (fakeCredential) GetUsername() string          { return "fred" }
func (fakeCredential) GetPassword() string          { return "hunter2" }
func (fakeCredential) GetSSHPrivateKey() []byte     { return nil }
func (fakeCredential) GetSSHPrivateKeyPath() string { return "" }
func (fakeCredential) GetEnablePassword() string    { return "" }
func (fakeCredential) GetAutoEnable() bool          { return false }

func testProfile(byAddress map[string]error) VendorProfile {
	return VendorProfile{
		Name:                 "profile-test",
		DefaultPort:          22,
		DefaultConnectMethod: "sshv2",
		PromptPattern:        regexp.MustCompile(`#\s*$`),
		CommandTrailer:       "\n",
		NewTransport: func(string) transport.Transport {
			return &addressDispatchTransport{byAddress: byAddress}
		},
	}
}

// addressDispatchTransport returns a per-address scripted error from
// Connect, letting a single VendorProfile.NewTransport closure drive
// DialogDriver.Connect's address iteration deterministically.
type addressDispatchTransport struct {
	byAddress map[string]error
}

func (a *addressDispatchTransport) Connect(address string, port int, cred transport.Credential, timeout time.Duration) error {
	return a.byAddress[address]
}
func (a *addressDispatchTransport) Write([]byte) error { return nil }
func (a *addressDispatchTransport) Expect(patterns []*regexp.Regexp, timeout time.Duration) (int, []byte, []byte, []byte, error) {
	return 0, nil, nil, nil, nil
}
func (a *addressDispatchTransport) Disconnect() error { return nil }

func TestDialogDriverConnectNoAddresses(t *testing.T) {
	d := New("r1", testProfile(nil), DefaultTimeouts())
	err := d.Connect(nil, "", fakeCredential{})
	ae, ok := apierrors.As(err)
	if !ok || ae.Kind != apierrors.KindNoAddresses {
		t.Fatalf("got %v, want KindNoAddresses", err)
	}
}

func TestDialogDriverConnectTriesNextAddressOnFailure(t *testing.T) {
	d := New("r1", testProfile(map[string]error{
		"10.0.0.1": errors.New("boom"),
		"10.0.0.2": nil,
	}), DefaultTimeouts())
	if err := d.Connect([]string{"10.0.0.1", "10.0.0.2"}, "", fakeCredential{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if d.connectedAddress != "10.0.0.2" {
		t.Fatalf("connectedAddress = %q, want 10.0.0.2", d.connectedAddress)
	}
}

func TestDialogDriverConnectStopsOnDoNotRetryError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	d := New("r1", testProfile(map[string]error{
		"10.0.0.1": refused,
		"10.0.0.2": nil,
	}), DefaultTimeouts())
	err := d.Connect([]string{"10.0.0.1", "10.0.0.2"}, "", fakeCredential{})
	if !errors.Is(err, refused) && err != refused {
		t.Fatalf("expected the connection-refused error to propagate unchanged, got %v", err)
	}
	if d.connectedAddress != "" {
		t.Fatal("expected no address to be marked connected after a do-not-retry failure")
	}
}

func TestDialogDriverConnectReturnsLastErrorWhenAllFail(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	d := New("r1", testProfile(map[string]error{
		"10.0.0.1": errA,
		"10.0.0.2": errB,
	}), DefaultTimeouts())
	err := d.Connect([]string{"10.0.0.1", "10.0.0.2"}, "", fakeCredential{})
	if err != errB {
		t.Fatalf("expected the last address's error, got %v", err)
	}
}
