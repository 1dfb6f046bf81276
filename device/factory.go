package device

import (
	"fmt"

	"github.com/nanoncore/notch/apierrors"
)

// profileFactory builds a fresh VendorProfile for one DeviceType. A
// factory rather than a stored value, since NewTransport must return a
// new Transport per connection.
type profileFactory func() VendorProfile

// registry maps a DeviceType string (as it appears in router.db/DNS TXT
// records and in RPC requests) to its profile factory, grounded on the
// teacher's CapabilityMatrix-keyed dispatch in factory.go.
var registry = map[string]profileFactory{}

// Register adds a vendor profile factory under deviceType. Vendor
// subpackages call this from an init() function.
func Register(deviceType string, factory profileFactory) {
	registry[deviceType] = factory
}

// SupportedDeviceTypes lists every registered DeviceType; the router.db
// provider uses it to skip entries with an unknown vendor.
func SupportedDeviceTypes() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// NewDriver builds a Driver for info, honoring the timeouts given.
// Vendors whose profile doesn't set SupportedConnectMethods accept any
// connect method; otherwise connectMethod (when non-empty) must be in
// that list.
func NewDriver(info DeviceInfo, connectMethod string, timeouts Timeouts) (Driver, error) {
	factory, ok := registry[info.DeviceType]
	if !ok {
		return nil, apierrors.NoSuchVendorf("no driver registered for device_type %q", info.DeviceType)
	}
	profile := factory()

	if connectMethod != "" && len(profile.SupportedConnectMethods) > 0 {
		supported := false
		for _, m := range profile.SupportedConnectMethods {
			if m == connectMethod {
				supported = true
				break
			}
		}
		if !supported {
			return nil, apierrors.InvalidModef(
				"device_type %q does not support connect method %q", info.DeviceType, connectMethod)
		}
	}

	dd := New(info.Name, profile, timeouts)

	// Vendors that support file transfer set NewTransport to an SSH-based
	// transport; file operations ride a second, dedicated SFTP
	// connection rather than the interactive expect session.
	if profile.Name == "" {
		return nil, fmt.Errorf("vendor profile for %q has no Name set", info.DeviceType)
	}
	if profile.supportsFileTransfer {
		return NewSFTPCapable(dd), nil
	}
	return dd, nil
}
