// Package ios registers the Cisco IOS/IOS-XE vendor profile, grounded on
// notch/agent/devices/dev_ios.py: the LOGIN_PROMPT/PASSWORD_PROMPT/PROMPT
// regexes, the "terminal length 0" pager disable, and the enable-password
// retry loop.
package ios

import (
	"regexp"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "ios"

var (
	loginPrompt    = regexp.MustCompile(`(?i)username:\s*$`)
	passwordPrompt = regexp.MustCompile(`(?i)password:\s*$`)
	prompt         = regexp.MustCompile(`\S+\s?[>#]\s*$`)
	pager          = regexp.MustCompile(`--More--`)
	enablePrompt   = regexp.MustCompile(`(?i)password:\s*$`)
	enableError    = regexp.MustCompile(`(?i)%\s*bad secrets|access denied`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                 DeviceType,
		DefaultPort:          22,
		DefaultConnectMethod: "sshv2",
		SupportedConnectMethods: []string{"sshv2", "telnet", "sshv1"},

		PromptPattern:         prompt,
		PagerPattern:          pager,
		PagerResponse:         []byte(" "),
		LoginPromptPattern:    loginPrompt,
		PasswordPromptPattern: passwordPrompt,

		DisablePagerCommand: "terminal length 0",
		GetConfigCommand:    "show %s",

		SupportsEnable:     true,
		EnablePromptPattern: enablePrompt,
		EnableErrorPattern:  enableError,

		CommandTrailer:    "\n",
		ExpectCommandEcho: true,
		Sanitize:          true,

		NewTransport: func(connectMethod string) transport.Transport {
			switch connectMethod {
			case "telnet":
				return transport.NewTelnet()
			case "sshv1":
				return transport.NewCmdlineSSH()
			default:
				return transport.NewSSHv2()
			}
		},
	}
}

func init() {
	// "cisco" is the vendor string router.db files carry for this
	// platform (rancid's name for it); both resolve to the same profile.
	for _, name := range []string{DeviceType, "cisco"} {
		device.Register(name, func() device.VendorProfile {
			return device.WithFileTransfer(Profile())
		})
	}
}
