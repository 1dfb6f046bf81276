// Package ftos registers the Force10 Networks FTOS vendor profile.
// FTOS is largely an IOS look-alike, but its SSH server only speaks
// protocol version 1, which golang.org/x/crypto/ssh refuses to
// negotiate — so the default connect method drives the system ssh
// binary as a subprocess instead (transport.CmdlineSSH).
package ftos

import (
	"regexp"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "ftos"

var (
	loginPrompt    = regexp.MustCompile(`(?i)username:\s*$`)
	passwordPrompt = regexp.MustCompile(`(?i)password:\s*$`)
	prompt         = regexp.MustCompile(`\S+\s?[>#]\s*$`)
	pager          = regexp.MustCompile(`--More--`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                 DeviceType,
		DefaultPort:          22,
		DefaultConnectMethod: "sshv1",
		SupportedConnectMethods: []string{"sshv1", "telnet"},

		PromptPattern:         prompt,
		PagerPattern:          pager,
		PagerResponse:         []byte(" "),
		LoginPromptPattern:    loginPrompt,
		PasswordPromptPattern: passwordPrompt,

		DisablePagerCommand: "terminal length 0",
		GetConfigCommand:    "show %s",

		SupportsEnable:      true,
		EnablePromptPattern: passwordPrompt,
		EnableErrorPattern:  regexp.MustCompile(`(?i)%\s*bad secrets|access denied`),

		CommandTrailer:    "\r\n",
		ExpectCommandEcho: true,
		Sanitize:          true,

		Login: login,

		NewTransport: func(connectMethod string) transport.Transport {
			if connectMethod == "telnet" {
				return transport.NewTelnet()
			}
			return transport.NewCmdlineSSH()
		},
	}
}

// login handles the sshv1 subprocess dialogue: the ssh binary may have
// already answered the password prompt during Connect, in which case the
// device prompt appears directly; otherwise a password prompt shows up
// here. Telnet sessions run the ordinary username/password exchange.
func login(t transport.Transport, timeouts device.Timeouts, cred device.Credential, connectMethod string) error {
	if connectMethod == "telnet" {
		if err := t.Write([]byte("\r\n")); err != nil {
			return apierrors.Connectf("writing login probe: %v", err)
		}
		if _, _, _, _, err := t.Expect([]*regexp.Regexp{loginPrompt}, timeouts.RespShort); err != nil {
			return apierrors.Connectf("did not find login prompt: %v", err)
		}
		if err := t.Write([]byte(cred.GetUsername() + "\r\n")); err != nil {
			return apierrors.Connectf("writing username: %v", err)
		}
		if _, _, _, _, err := t.Expect([]*regexp.Regexp{passwordPrompt}, timeouts.RespShort); err != nil {
			return apierrors.Connectf("did not find password prompt: %v", err)
		}
		if err := t.Write([]byte(cred.GetPassword() + "\r\n")); err != nil {
			return apierrors.Connectf("writing password: %v", err)
		}
		if _, _, _, _, err := t.Expect([]*regexp.Regexp{prompt}, timeouts.RespShort); err != nil {
			return apierrors.Authenticationf("password not accepted: %v", err)
		}
		return nil
	}

	idx, _, _, _, err := t.Expect([]*regexp.Regexp{passwordPrompt, prompt}, timeouts.RespShort)
	if err != nil {
		return apierrors.Connectf("did not find password prompt or device prompt: %v", err)
	}
	if idx == 1 {
		return nil
	}
	if err := t.Write([]byte(cred.GetPassword() + "\n")); err != nil {
		return apierrors.Connectf("writing password: %v", err)
	}
	if _, _, _, _, err := t.Expect([]*regexp.Regexp{prompt}, timeouts.RespShort); err != nil {
		return apierrors.Authenticationf("password not accepted: %v", err)
	}
	return nil
}

func init() {
	// "force10" is the router.db vendor string rancid uses for FTOS.
	for _, name := range []string{DeviceType, "force10"} {
		device.Register(name, Profile)
	}
}
