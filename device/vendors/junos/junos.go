// Package junos registers the Juniper Junos vendor profile.
//
// dev_junos.py in the original agent drives Junos over a non-interactive
// paramiko exec_command channel rather than an expect dialogue, since
// Junos's CLI happily runs one command per SSH exec without a login
// banner to skip past. Notch's unified Transport/Driver contract treats
// every device as an interactive dialogue, so Junos is folded into the
// same DialogDriver engine as the IOS family here: its prompt is a plain
// "user@host>" (or "user@host%" in shell mode) and it has no pager by
// default once "set cli screen-length 0" runs, so the generic engine's
// flush/prompt loop covers it without a second code path.
package junos

import (
	"regexp"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "junos"

var (
	loginPrompt    = regexp.MustCompile(`(?i)login:\s*$`)
	passwordPrompt = regexp.MustCompile(`(?i)password:\s*$`)
	prompt         = regexp.MustCompile(`\S+@\S*[>%#]\s*$`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                     DeviceType,
		DefaultPort:              22,
		DefaultConnectMethod:     "sshv2",
		SupportedConnectMethods: []string{"sshv2", "telnet"},

		PromptPattern:         prompt,
		LoginPromptPattern:    loginPrompt,
		PasswordPromptPattern: passwordPrompt,

		DisablePagerCommand: "set cli screen-length 0",
		GetConfigCommand:    "show configuration",

		SupportsEnable: false,

		CommandTrailer:    "\n",
		ExpectCommandEcho: true,
		Sanitize:          true,

		NewTransport: func(connectMethod string) transport.Transport {
			if connectMethod == "telnet" {
				return transport.NewTelnet()
			}
			return transport.NewSSHv2()
		},
	}
}

func init() {
	// "juniper" is the router.db vendor string for Junos platforms.
	for _, name := range []string{DeviceType, "juniper"} {
		device.Register(name, func() device.VendorProfile {
			return device.WithFileTransfer(Profile())
		})
	}
}
