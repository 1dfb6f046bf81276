package device

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/internal/logging"
	"github.com/nanoncore/notch/transport"
)

// VendorProfile parameterizes DialogDriver for one CLI dialect. Most
// vendors only need the declarative fields (prompt/pager regexes, the
// pager-disable command); the handful with an unusual login or logout
// dance (Nortel/Bay's Ctrl-Y menu, Netscreen's unsaved-config prompt)
// supply a Login/Logout hook instead of the generic ones.
type VendorProfile struct {
	// Name is the device_type key vendors register under in the factory.
	Name string

	DefaultPort              int
	TelnetPort               int // 0 falls back to 23
	DefaultConnectMethod     string
	SupportedConnectMethods []string

	// PromptPattern matches this vendor's command prompt.
	PromptPattern *regexp.Regexp
	// PagerPattern matches a paging prompt; nil disables pager handling.
	PagerPattern  *regexp.Regexp
	PagerResponse []byte

	// LoginPromptPattern/PasswordPromptPattern drive the generic
	// telnet-style login dialogue. Unused when Login is set.
	LoginPromptPattern    *regexp.Regexp
	PasswordPromptPattern *regexp.Regexp

	// DisablePagerCommand is run once after login; empty skips the step
	// (some devices, like early BPS2000 switches, can't disable paging).
	DisablePagerCommand string

	// GetConfigCommand retrieves a named configuration over the CLI
	// dialogue. A "%s" is replaced with the requested source (e.g.
	// "show %s" yields "show running-config"); empty means get_config
	// is unsupported on this vendor.
	GetConfigCommand string

	// RespShortOverride, when positive, replaces the device-wide short
	// response timeout (Omniswitches have a long login delay).
	RespShortOverride time.Duration

	// SupportsEnable gates whether an enable_password on the credential
	// triggers the enable sequence at all (false for Netscreen/Omniswitch,
	// which have no privilege-escalation concept).
	SupportsEnable        bool
	EnablePromptPattern    *regexp.Regexp
	EnableErrorPattern     *regexp.Regexp

	CommandTrailer    string
	ExpectCommandEcho bool
	Sanitize          bool

	// supportsFileTransfer tells the factory to wrap the built
	// DialogDriver in an SFTPCapable. Set via WithFileTransfer rather
	// than directly, since it is only meaningful alongside SSH-family
	// transports.
	supportsFileTransfer bool

	// Login fully overrides the generic login dialogue. The prompt
	// expected after it returns is still PromptPattern.
	Login func(t transport.Transport, timeouts Timeouts, cred Credential, connectMethod string) error

	// Logout runs before the transport is torn down, for vendors that
	// need a specific exit dance (a save-config prompt, a menu "L"ogout
	// keystroke). The error is logged, never propagated — disconnect is
	// always best-effort (spec.md §9(b)).
	Logout func(t transport.Transport, timeouts Timeouts)

	// NewTransport builds the Transport for one connection attempt,
	// given the resolved connect method ("sshv2", "telnet", "sshv1").
	NewTransport func(connectMethod string) transport.Transport
}

// DialogDriver is the generic engine: every vendor subpackage builds one
// of these from its VendorProfile rather than implementing Driver itself.
type DialogDriver struct {
	name    string
	profile VendorProfile
	timeouts Timeouts

	t                transport.Transport
	prompt           *regexp.Regexp
	connectedAddress string
}

// New constructs a DialogDriver for one device, using the timeouts and
// vendor profile given. Addresses and connection are supplied to Connect.
func New(name string, profile VendorProfile, timeouts Timeouts) *DialogDriver {
	timeouts.RespShort = timeoutOr(profile.RespShortOverride, timeouts.RespShort)
	return &DialogDriver{name: name, profile: profile, timeouts: timeouts}
}

// WithFileTransfer marks a profile as SFTP-capable; the factory then
// wraps its DialogDriver in an SFTPCapable instead of returning it bare.
func WithFileTransfer(p VendorProfile) VendorProfile {
	p.supportsFileTransfer = true
	return p
}

// Connect implements the Connect algorithm of spec.md §4.2: iterate
// addresses in order, first success wins. A do-not-retry network error
// (connection-refused, no-route, network-unreachable) stops iteration
// immediately rather than trying the remaining addresses; any other
// failure is accumulated and only raised once every address has failed.
func (d *DialogDriver) Connect(addresses []string, connectMethod string, cred Credential) error {
	if len(addresses) == 0 {
		return apierrors.NoAddressesf("device %s has no addresses", d.name)
	}
	if connectMethod == "" {
		connectMethod = d.profile.DefaultConnectMethod
	}
	port := d.profile.DefaultPort
	if connectMethod == "telnet" {
		port = d.profile.TelnetPort
		if port == 0 {
			port = 23
		}
	}

	var lastErr error
	for _, address := range addresses {
		if err := d.connectOne(address, port, connectMethod, cred); err != nil {
			if isDoNotRetryNetworkError(err) {
				return err
			}
			logging.WithDevice(d.name).WithError(err).Debug("connect attempt to address failed, trying next")
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (d *DialogDriver) connectOne(address string, port int, connectMethod string, cred Credential) error {
	t := d.profile.NewTransport(connectMethod)
	if err := t.Connect(address, port, cred, d.timeouts.Connect); err != nil {
		return err
	}

	var err error
	if d.profile.Login != nil {
		err = d.profile.Login(t, d.timeouts, cred, connectMethod)
	} else {
		err = d.genericLogin(t, cred, connectMethod)
	}
	if err != nil {
		t.Disconnect()
		return err
	}

	d.t = t
	d.prompt = d.profile.PromptPattern
	d.connectedAddress = address

	if cred.GetEnablePassword() != "" && cred.GetAutoEnable() && d.profile.SupportsEnable {
		if err := d.enable(cred.GetEnablePassword()); err != nil {
			t.Disconnect()
			d.t = nil
			return err
		}
	}

	if d.profile.DisablePagerCommand != "" {
		if _, err := d.run(d.profile.DisablePagerCommand); err != nil {
			logging.WithDevice(d.name).WithError(err).Debug("failed to disable pager")
		}
	}

	return nil
}

// isDoNotRetryNetworkError reports whether err is one of the small
// network-class failures spec.md §4.2 names as non-retryable across
// addresses: connection-refused, no-route, network-unreachable.
func isDoNotRetryNetworkError(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
		errors.Is(opErr.Err, syscall.EHOSTUNREACH) ||
		errors.Is(opErr.Err, syscall.ENETUNREACH)
}

// genericLogin implements the username/password dialogue dev_ios.py's
// _login runs for telnet sessions; SSH sessions authenticate at the
// transport layer, so only a flush-for-prompt is needed there.
func (d *DialogDriver) genericLogin(t transport.Transport, cred Credential, connectMethod string) error {
	if connectMethod != "telnet" {
		_, _, _, _, err := t.Expect([]*regexp.Regexp{d.profile.PromptPattern}, d.timeouts.RespShort)
		if err != nil {
			return apierrors.Connectf("did not find prompt after connecting to %s: %v", d.name, err)
		}
		return nil
	}

	if err := t.Write([]byte("\n")); err != nil {
		return apierrors.Connectf("writing login probe to %s: %v", d.name, err)
	}
	idx, _, _, _, err := t.Expect([]*regexp.Regexp{d.profile.LoginPromptPattern}, d.timeouts.RespShort)
	if err != nil || idx != 0 {
		return apierrors.Connectf("did not find login prompt on %s: %v", d.name, err)
	}

	if err := t.Write([]byte(cred.GetUsername() + "\n")); err != nil {
		return apierrors.Connectf("writing username to %s: %v", d.name, err)
	}
	idx, _, _, _, err = t.Expect([]*regexp.Regexp{d.profile.PasswordPromptPattern}, d.timeouts.RespShort)
	if err != nil || idx != 0 {
		return apierrors.Connectf("did not find password prompt on %s: %v", d.name, err)
	}

	if err := t.Write([]byte(cred.GetPassword() + "\n")); err != nil {
		return apierrors.Connectf("writing password to %s: %v", d.name, err)
	}
	idx, _, _, _, err = t.Expect([]*regexp.Regexp{d.profile.PromptPattern}, d.timeouts.RespShort)
	if err != nil || idx != 0 {
		return apierrors.Authenticationf("password not accepted on %s", d.name)
	}
	return nil
}

func (d *DialogDriver) enable(enablePassword string) error {
	if err := d.t.Write([]byte("enable\n")); err != nil {
		return apierrors.Enablef("writing enable command on %s: %v", d.name, err)
	}
	patterns := []*regexp.Regexp{d.profile.EnablePromptPattern, d.profile.PromptPattern}
	errIdx := -1
	if d.profile.EnableErrorPattern != nil {
		errIdx = len(patterns)
		patterns = append(patterns, d.profile.EnableErrorPattern)
	}
	for i := 0; i < 2; i++ {
		idx, _, _, _, err := d.t.Expect(patterns, d.timeouts.RespShort)
		if err != nil {
			return apierrors.Enablef("enable dialogue failed on %s: %v", d.name, err)
		}
		switch idx {
		case 0:
			if err := d.t.Write([]byte(enablePassword + "\n")); err != nil {
				return apierrors.Enablef("writing enable password on %s: %v", d.name, err)
			}
			continue
		case 1:
			return nil
		default:
			if idx == errIdx {
				return apierrors.Authenticationf("enable authentication failed on %s", d.name)
			}
			return apierrors.Enablef("unexpected enable response on %s", d.name)
		}
	}
	return apierrors.Enablef("enable dialogue did not complete on %s", d.name)
}

func (d *DialogDriver) Disconnect() error {
	if d.t == nil {
		return nil
	}
	if d.profile.Logout != nil {
		d.profile.Logout(d.t, d.timeouts)
	}
	err := d.t.Disconnect()
	if err != nil {
		logging.WithDevice(d.name).WithError(err).Debug("error during disconnect, ignoring")
	}
	d.t = nil
	return nil
}

func (d *DialogDriver) Command(cmd string) (string, error) {
	return d.run(cmd)
}

func (d *DialogDriver) run(cmd string) (string, error) {
	if d.t == nil {
		return "", apierrors.Commandf(false, "device %s is not connected", d.name)
	}
	return transport.RunCommand(d.t, cmd, transport.CommandOptions{
		Prompt:            d.prompt,
		Pager:             d.profile.PagerPattern,
		PagerResponse:     d.profile.PagerResponse,
		CommandTrailer:    d.profile.CommandTrailer,
		ExpectCommandEcho: d.profile.ExpectCommandEcho,
		ShortTimeout:      d.timeouts.RespShort,
		LongTimeout:       d.timeouts.RespLong,
		Sanitize:          d.profile.Sanitize,
	})
}

// GetConfig runs the vendor's configuration-retrieval command through
// the CLI dialogue. File operations are not supported by the dialogue
// engine itself; device/filexfer.go supplies an SFTP-backed
// implementation that embeds DialogDriver and overrides those.
func (d *DialogDriver) GetConfig(source string) (string, error) {
	cmd := d.profile.GetConfigCommand
	if cmd == "" {
		return "", apierrors.NotImplemented("get_config")
	}
	if strings.Contains(cmd, "%s") {
		cmd = fmt.Sprintf(cmd, source)
	}
	return d.run(cmd)
}

func (d *DialogDriver) SetConfig(destination, configData string) error {
	return apierrors.NotImplemented("set_config")
}

func (d *DialogDriver) CopyFile(source, destination string, overwrite bool) error {
	return apierrors.NotImplemented("copy_file")
}

func (d *DialogDriver) UploadFile(source, destination string, overwrite bool) error {
	return apierrors.NotImplemented("upload_file")
}

func (d *DialogDriver) DownloadFile(source, destination string, overwrite bool) error {
	return apierrors.NotImplemented("download_file")
}

func (d *DialogDriver) DeleteFile(filename string) error {
	return apierrors.NotImplemented("delete_file")
}

func (d *DialogDriver) Lock() error {
	return apierrors.NotImplemented("lock")
}

func (d *DialogDriver) Unlock() error {
	return apierrors.NotImplemented("unlock")
}

var _ Driver = (*DialogDriver)(nil)

// timeoutOr returns d if d is positive, else fallback; used for vendor
// profiles that override one of the device-wide timeouts.
func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
