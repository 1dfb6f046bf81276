// Package netscreen registers the Netscreen ScreenOS vendor profile.
// ScreenOS has no enable mode and asks whether to save a modified
// configuration when the session exits, so disconnect answers "n" to
// that prompt before tearing the transport down.
package netscreen

import (
	"regexp"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "netscreen"

var (
	loginPrompt    = regexp.MustCompile(`(?i)login:\s*$`)
	passwordPrompt = regexp.MustCompile(`(?i)password:\s*$`)
	prompt         = regexp.MustCompile(`\S+\s?->\s*$`)
	unsavedConfig  = regexp.MustCompile(`Configuration modified, save\?`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                 DeviceType,
		DefaultPort:          22,
		DefaultConnectMethod: "sshv2",
		SupportedConnectMethods: []string{"sshv2"},

		PromptPattern:         prompt,
		LoginPromptPattern:    loginPrompt,
		PasswordPromptPattern: passwordPrompt,

		DisablePagerCommand: "set console page 0",

		SupportsEnable: false,

		CommandTrailer:    "\n",
		ExpectCommandEcho: true,
		Sanitize:          true,

		Logout: logout,

		NewTransport: func(string) transport.Transport {
			return transport.NewSSHv2()
		},
	}
}

// logout exits the CLI, declining the save-config prompt if the device
// raises one. Test units need no trailing newline on the "n".
func logout(t transport.Transport, timeouts device.Timeouts) {
	if err := t.Write([]byte("exit\n")); err != nil {
		return
	}
	idx, _, _, _, err := t.Expect([]*regexp.Regexp{unsavedConfig}, timeouts.RespShort)
	if err == nil && idx == 0 {
		t.Write([]byte("n"))
	}
}

func init() {
	device.Register(DeviceType, Profile)
}
