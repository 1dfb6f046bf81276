// Package timos registers the Timetra/Alcatel TiMOS vendor profile.
// TiMOS sometimes asks for the password again after the SSH session
// opens, so login loops between the password prompt and the CLI prompt
// rather than assuming the transport-level auth was the last word.
package timos

import (
	"errors"
	"regexp"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "timos"

var (
	passwordPrompt = regexp.MustCompile(`[Pp]assword:`)
	prompt         = regexp.MustCompile(`\*?[AB]:[^\$#]+[\$#]`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                 DeviceType,
		DefaultPort:          22,
		DefaultConnectMethod: "sshv2",
		SupportedConnectMethods: []string{"sshv2"},

		PromptPattern: prompt,

		DisablePagerCommand: "environment no more",

		SupportsEnable: false,

		CommandTrailer:    "\r",
		ExpectCommandEcho: false,
		Sanitize:          true,

		Login: login,

		NewTransport: func(string) transport.Transport {
			return transport.NewSSHv2()
		},
	}
}

func login(t transport.Transport, timeouts device.Timeouts, cred device.Credential, connectMethod string) error {
	for {
		idx, _, _, _, err := t.Expect([]*regexp.Regexp{prompt, passwordPrompt}, timeouts.RespShort)
		if err != nil {
			if errors.Is(err, transport.ErrStreamClosed) {
				// Lockout: the device accepted the TCP session, then
				// closed it after login.
				return apierrors.Connectf("device closed connection after login (locked out)")
			}
			return apierrors.Connectf("did not find prompt after login: %v", err)
		}
		switch idx {
		case 0:
			return nil
		case 1:
			if err := t.Write([]byte(cred.GetPassword() + "\n")); err != nil {
				return apierrors.Connectf("writing password: %v", err)
			}
		}
	}
}

func init() {
	// "timetra" is the vendor string the original device inventories use.
	for _, name := range []string{DeviceType, "timetra"} {
		device.Register(name, Profile)
	}
}
