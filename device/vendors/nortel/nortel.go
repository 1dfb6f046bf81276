// Package nortel registers the Nortel (ex-Bay) Ethernet switch profile,
// covering the BPS and Baystack series (including 3510/5510). These
// switches greet telnet sessions with a banner asking for Ctrl-Y, then a
// password prompt, then a curses menu from which "C"ommand Line
// Interface must be selected before a prompt appears.
package nortel

import (
	"regexp"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/transport"
)

const DeviceType = "baystack"

const ctrlY = "\x19"

var (
	preLoginPrompt  = regexp.MustCompile(`Enter Ctrl-Y to begin`)
	passwordPrompt  = regexp.MustCompile(`Enter Password:`)
	cliMenuOption   = regexp.MustCompile(`ommand Line Interface`)
	invalidPassword = regexp.MustCompile(`nvalid [pP]assword`)
	prompt          = regexp.MustCompile(`\S+\s?[>#]\s*$`)
	pager           = regexp.MustCompile(`----More .+----`)
	logoutBanner    = regexp.MustCompile(`ogout\.\.`)
)

func Profile() device.VendorProfile {
	return device.VendorProfile{
		Name:                 DeviceType,
		DefaultPort:          22,
		DefaultConnectMethod: "telnet",
		SupportedConnectMethods: []string{"telnet", "sshv2"},

		PromptPattern: prompt,
		PagerPattern:  pager,
		PagerResponse: []byte(" "),

		DisablePagerCommand: "terminal length 0",

		SupportsEnable:      true,
		EnablePromptPattern: regexp.MustCompile(`(?i)password:\s*$`),
		EnableErrorPattern:  invalidPassword,

		CommandTrailer:    "\n",
		ExpectCommandEcho: true,
		Sanitize:          true,

		Login:  login,
		Logout: logout,

		NewTransport: func(connectMethod string) transport.Transport {
			if connectMethod == "telnet" {
				return transport.NewTelnet()
			}
			return transport.NewSSHv2()
		},
	}
}

// login drives the Ctrl-Y/password/menu dance. Only telnet sessions need
// it; SSH sessions authenticate at the transport layer and land straight
// on the menu-free CLI, so a prompt flush suffices there.
func login(t transport.Transport, timeouts device.Timeouts, cred device.Credential, connectMethod string) error {
	if connectMethod != "telnet" {
		_, before, _, _, err := t.Expect([]*regexp.Regexp{prompt}, timeouts.RespShort)
		if err != nil {
			return apierrors.Connectf("did not find prompt after SSH login: %v (device says %q)", err, before)
		}
		return nil
	}

	_, before, _, _, err := t.Expect([]*regexp.Regexp{preLoginPrompt}, timeouts.RespShort)
	if err != nil {
		return apierrors.Connectf("device says: %q (%v)", before, err)
	}
	if err := t.Write([]byte(ctrlY)); err != nil {
		return apierrors.Connectf("sending Ctrl-Y: %v", err)
	}

	if _, _, _, _, err := t.Expect([]*regexp.Regexp{passwordPrompt}, timeouts.RespShort); err != nil {
		return apierrors.Connectf("did not find password prompt: %v", err)
	}
	if err := t.Write([]byte(cred.GetPassword() + "\n")); err != nil {
		return apierrors.Connectf("sending password: %v", err)
	}

	idx, _, _, _, err := t.Expect([]*regexp.Regexp{cliMenuOption, invalidPassword}, timeouts.RespShort)
	if err != nil || idx == 1 {
		return apierrors.Connectf("password not accepted or menu not seen (%v)", err)
	}

	// Select CLI mode from the menu.
	if err := t.Write([]byte("C")); err != nil {
		return apierrors.Connectf("selecting CLI menu option: %v", err)
	}
	if _, _, _, _, err := t.Expect([]*regexp.Regexp{prompt}, timeouts.RespShort); err != nil {
		return apierrors.Connectf("did not find CLI mode prompt: %v", err)
	}
	return nil
}

// logout asks the CLI to log out, then confirms the menu's "L"ogout
// keystroke if the switch drops back into its menu instead of closing.
func logout(t transport.Transport, timeouts device.Timeouts) {
	if err := t.Write([]byte("logout\n")); err != nil {
		return
	}
	idx, _, _, _, err := t.Expect([]*regexp.Regexp{logoutBanner}, timeouts.RespShort)
	if err == nil && idx == 0 {
		t.Write([]byte("L"))
	}
}

func init() {
	device.Register(DeviceType, Profile)
}
