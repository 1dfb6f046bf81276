// Package device implements the per-vendor CLI dialogue drivers
// (component C2/C3, spec.md §4.2) on top of transport.Transport.
//
// Rather than one Go type per vendor (the teacher's
// vendors/<vendor>/adapter.go-wrapping-a-base-driver shape), Notch's
// vendors differ only in a handful of regexes, commands, and small login
// quirks, so a single DialogDriver engine is parameterized by a
// VendorProfile trait — composition instead of the deep per-vendor
// inheritance the REDESIGN FLAGS note calls out.
package device

import "time"

// Timeouts mirrors notch/agent/devices/device.py's Timeouts namedtuple:
// stage-specific deadlines for a device's connection lifecycle.
type Timeouts struct {
	Connect    time.Duration
	RespShort  time.Duration
	RespLong   time.Duration
	Disconnect time.Duration
}

// DefaultTimeouts matches device.py's class defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:    25 * time.Second,
		RespShort:  12 * time.Second,
		RespLong:   180 * time.Second,
		Disconnect: 10 * time.Second,
	}
}

// MaxIdleTime is the default idle threshold the Controller's sweeper
// uses to decide a session is stale (spec.md §4.7).
const MaxIdleTime = 900 * time.Second

// DeviceInfo is the immutable record produced by registry providers and
// consumed by the driver factory (spec.md §3).
type DeviceInfo struct {
	Name       string   `json:"device_name"`
	Addresses  []string `json:"addresses"`
	DeviceType string   `json:"device_type"`
}

// Driver is the per-device behavioral contract (spec.md §4.2). Optional
// operations a vendor doesn't support fail with apierrors.NotImplemented
// rather than being split across separate interfaces, matching the
// teacher's single broad Driver interface with per-vendor adapters
// declining what they don't implement.
type Driver interface {
	// Connect iterates addresses in order, the first successful attempt
	// winning (spec.md §4.2 Connect algorithm). Empty addresses fails with
	// apierrors.NoAddressesError without any network I/O.
	Connect(addresses []string, connectMethod string, cred Credential) error
	Disconnect() error
	Command(cmd string) (string, error)

	GetConfig(source string) (string, error)
	SetConfig(destination, configData string) error
	CopyFile(source, destination string, overwrite bool) error
	UploadFile(source, destination string, overwrite bool) error
	DownloadFile(source, destination string, overwrite bool) error
	DeleteFile(filename string) error
	Lock() error
	Unlock() error
}

// Credential is the view of a login record a Driver needs — a superset
// of transport.Credential adding the enable password and auto-enable
// hint, which live above the Transport layer. credentials.Credential
// satisfies this.
type Credential interface {
	GetUsername() string
	GetPassword() string
	GetSSHPrivateKey() []byte
	GetSSHPrivateKeyPath() string
	GetEnablePassword() string
	GetAutoEnable() bool
}
