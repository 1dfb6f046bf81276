// Package session implements the Notch Session model (component C3,
// spec.md §4.3), grounded directly on notch/agent/session.py: the
// (device_name, connect_method, user, privilege_level) session key, the
// exclusive per-session request lock, and the connect/disconnect/request
// state machine including the single reconnect-and-retry path.
package session

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/credentials"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/internal/logging"
)

// Key uniquely identifies a Session, per spec.md §3. Any field may be
// the zero value; that participates in equality like the rest.
type Key struct {
	DeviceName     string
	ConnectMethod  string
	User           string
	PrivilegeLevel string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.DeviceName, k.ConnectMethod, k.User, k.PrivilegeLevel)
}

// validRequests is the Device API method set a Session accepts,
// mirroring session.py's valid_requests tuple.
var validRequests = map[string]bool{
	"command":      true,
	"get_config":   true,
	"set_config":   true,
	"copy_file":    true,
	"upload_file":  true,
	"download_file": true,
	"delete_file":  true,
	"lock":         true,
	"unlock":       true,
}

// Session manages one device's connection lifecycle plus a serialized
// request path (spec.md §4.3). Exactly one request executes at a time,
// enforced by exclusive.
type Session struct {
	exclusive sync.Mutex

	Device        device.Driver
	DeviceName    string
	addresses     []string
	connectMethod string

	credential *credentials.Credential

	connected bool
	idle      bool

	LastConnect    time.Time
	LastDisconnect time.Time
	LastRequest    time.Time
	LastResponse   time.Time
}

// New constructs a Session around an already-built device.Driver. addresses
// is passed through to the driver's Connect unchanged; the driver itself
// iterates them in order, first success wins (spec.md §4.2).
func New(deviceName string, addresses []string, drv device.Driver) *Session {
	return &Session{
		Device:     drv,
		DeviceName: deviceName,
		addresses:  addresses,
		idle:       true,
	}
}

func (s *Session) String() string {
	host := "(not connected)"
	if s.DeviceName != "" {
		host = "on " + s.DeviceName
	}
	user := ""
	if s.credential != nil {
		user = " username=" + s.credential.GetUsername()
	}
	return fmt.Sprintf("<Session %s%s>", host, user)
}

// Connected reports whether the device is presently connected.
func (s *Session) Connected() bool { return s.connected }

// Idle reports whether no request is currently executing.
func (s *Session) Idle() bool { return s.idle }

// Credential returns the currently assigned credential, or nil.
func (s *Session) Credential() *credentials.Credential { return s.credential }

// SetConnectMethod records the connect method requested by the session
// key that created this Session (spec.md §3), used as a fallback when
// the credential itself specifies none.
func (s *Session) SetConnectMethod(m string) { s.connectMethod = m }

// SetCredential assigns cred, per spec.md §3 invariant (c): changing to a
// different credential while connected disconnects and attempts a
// best-effort reconnect. Assigning an equal credential is a no-op beyond
// the field write (spec.md §8 Laws).
func (s *Session) SetCredential(cred *credentials.Credential) {
	changed := !credentialsEqual(s.credential, cred)
	wasConnected := s.connected
	if changed && wasConnected {
		if err := s.Disconnect(); err != nil {
			logging.WithSession(s.String()).WithError(err).Error("disconnect failed while changing credential")
		}
	}
	s.credential = cred
	if changed && wasConnected {
		if err := s.Connect(); err != nil {
			if _, ok := apierrors.As(err); ok {
				logging.WithSession(s.String()).WithError(err).Debug("reconnect after credential change failed, giving up")
			}
		}
	}
}

func credentialsEqual(a, b *credentials.Credential) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}

// Connect connects the session using the current credential, a no-op if
// already connected (spec.md §8 Laws: disconnect . connect is idempotent).
func (s *Session) Connect() error {
	if s.Device == nil {
		return nil
	}
	if s.connected {
		return nil
	}
	if s.credential == nil {
		return apierrors.NoMatchingCredentialf("no credential assigned to session for %s", s.DeviceName)
	}

	// Credential.connect_method overrides the session/device default, per
	// notch/agent/session.py's connect() call (SUPPLEMENTED FEATURES in
	// SPEC_FULL.md).
	connectMethod := s.connectMethod
	if s.credential.ConnectMethod != "" {
		connectMethod = s.credential.ConnectMethod
	}

	if err := s.Device.Connect(s.addresses, connectMethod, s.credential); err != nil {
		return err
	}
	s.LastConnect = time.Now()
	s.connected = true
	s.idle = true
	return nil
}

// Disconnect disconnects the session, a no-op if not connected.
func (s *Session) Disconnect() error {
	if s.Device == nil {
		return nil
	}
	if !s.connected {
		return nil
	}
	err := s.Device.Disconnect()
	s.LastDisconnect = time.Now()
	s.connected = false
	s.idle = true
	return err
}

// Request executes method on the device, serialized behind the session's
// exclusive lock (spec.md §4.3). Result is base64-encoded, since it may
// carry binary data (spec.md §3, §6).
func (s *Session) Request(method string, args Args) (string, error) {
	log := logging.WithSession(s.String())
	log.Debug("acquiring session lock")
	s.exclusive.Lock()
	defer func() {
		log.Debug("releasing session lock")
		s.exclusive.Unlock()
	}()
	log.Debug("acquired session lock")

	if !validRequests[method] {
		return "", apierrors.InvalidRequestf("method %q not part of the device API", method)
	}
	if s.Device == nil {
		return "", apierrors.InvalidDevicef("device not yet initialised")
	}
	if !s.connected {
		if err := s.Connect(); err != nil {
			return "", err
		}
	}

	s.LastRequest = time.Now()
	s.idle = false
	result, err := s.invoke(method, args)
	if err != nil {
		if ae, ok := apierrors.As(err); ok {
			if ae.DisconnectOnError {
				log.Debug("disconnecting session after error")
				if dErr := s.Disconnect(); dErr != nil {
					log.WithError(dErr).Debug("disconnect after error also failed")
				}
			}
			if ae.Retry {
				log.Debug("retrying request once after reconnect")
				if s.connected {
					if dErr := s.Disconnect(); dErr != nil {
						log.WithError(dErr).Debug("disconnect before retry failed")
					}
				}
				if cErr := s.Connect(); cErr != nil {
					s.idle = true
					return "", cErr
				}
				result, err = s.invoke(method, args)
			}
		}
	}
	s.idle = true
	if err != nil {
		return "", err
	}
	s.LastResponse = time.Now()
	return base64.StdEncoding.EncodeToString([]byte(result)), nil
}

// invoke dispatches method on s.Device with its expected arguments,
// mirroring session.py's getattr(self.device, method)(*args, **kwargs).
func (s *Session) invoke(method string, args Args) (string, error) {
	switch method {
	case "command":
		return s.Device.Command(args.Command)
	case "get_config":
		return s.Device.GetConfig(args.Source)
	case "set_config":
		return "", s.Device.SetConfig(args.Destination, args.ConfigData)
	case "copy_file":
		return "", s.Device.CopyFile(args.Source, args.Destination, args.Overwrite)
	case "upload_file":
		return "", s.Device.UploadFile(args.Source, args.Destination, args.Overwrite)
	case "download_file":
		return "", s.Device.DownloadFile(args.Source, args.Destination, args.Overwrite)
	case "delete_file":
		return "", s.Device.DeleteFile(args.Filename)
	case "lock":
		return "", s.Device.Lock()
	case "unlock":
		return "", s.Device.Unlock()
	default:
		return "", apierrors.InvalidRequestf("method %q not part of the device API", method)
	}
}

// Args bundles every possible request argument. Not every field applies
// to every method; unused fields are simply ignored, matching the
// original's **kwargs passthrough filtered by device_method's signature.
type Args struct {
	Command     string
	Source      string
	Destination string
	ConfigData  string
	Filename    string
	Overwrite   bool
	Mode        string
}
