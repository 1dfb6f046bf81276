// Package omniswitch registers the Alcatel-Lucent Omniswitch vendor
// profile. Omniswitches answer with DOS CRLF line endings (the
// transport's sanitizer normalizes them), have no enable mode, and can
// take a while to present their login prompt.
package omniswitch

import (
	"regexp"
	"time"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "omniswitch"

var (
	loginPrompt    = regexp.MustCompile(`login :`)
	passwordPrompt = regexp.MustCompile(`password :`)
	prompt         = regexp.MustCompile(`-> $`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                 DeviceType,
		DefaultPort:          22,
		DefaultConnectMethod: "sshv2",
		SupportedConnectMethods: []string{"sshv2", "telnet"},

		PromptPattern:         prompt,
		LoginPromptPattern:    loginPrompt,
		PasswordPromptPattern: passwordPrompt,

		// Sometimes Omniswitches have a long login delay; be understanding.
		RespShortOverride: 17 * time.Second,

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
	device.Register(DeviceType, Profile)
}
