// Package controller implements the Notch Agent Controller (component
// C7, spec.md §4.7), grounded directly on notch/agent/controller.py: it
// owns the session cache (populate via device creation, expire via
// disconnect), attaches credentials, and runs the idle sweeper.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/cache"
	"github.com/nanoncore/notch/credentials"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/internal/logging"
	"github.com/nanoncore/notch/registry"
	"github.com/nanoncore/notch/session"
)

// MaxActiveSessions bounds the session LRU (spec.md §4.7 default
// 128-512; notch/agent/controller.py's MAX_ACTIVE_SESSIONS).
const MaxActiveSessions = 512

// DefaultSessionMaintPeriod is how often the idle sweeper runs, absent
// config override (spec.md §4.7).
const DefaultSessionMaintPeriod = 10 * time.Second

// Request bundles the method name and arguments for Controller.Request,
// mirroring session.Args plus the routing fields (device_name,
// connect_method, user, privilege_level) the Controller itself consumes.
type Request struct {
	DeviceName     string
	ConnectMethod  string
	User           string
	PrivilegeLevel string

	Args session.Args
}

// Controller routes device API requests to sessions, owning the session
// cache exclusively (spec.md §4.7's ownership rule — mutations happen
// only from the single goroutine that calls Request/sweep).
type Controller struct {
	Registry    *registry.Registry
	Credentials *credentials.Store
	Timeouts    device.Timeouts

	sessions *cache.LRU[session.Key, *session.Session]

	// keysMu/liveKeys track which session keys are currently cached, so
	// the idle sweeper and Stop can enumerate sessions without the cache
	// having to expose its internal heap/map state.
	keysMu   sync.Mutex
	liveKeys map[session.Key]bool

	sessionMaintPeriod time.Duration
	stop               chan struct{}

	// newDriver builds a Driver for one DeviceInfo. Defaults to
	// device.NewDriver; overridable in tests so the session lifecycle can
	// be exercised without a real transport.
	newDriver func(info device.DeviceInfo, connectMethod string, timeouts device.Timeouts) (device.Driver, error)
}

// New constructs a Controller. credStore may be nil if no credentials
// file was configured (every request then fails NoMatchingCredentialError,
// matching the original's behavior when the options section is absent).
func New(reg *registry.Registry, credStore *credentials.Store, timeouts device.Timeouts) *Controller {
	c := &Controller{
		Registry:           reg,
		Credentials:        credStore,
		Timeouts:           timeouts,
		liveKeys:           make(map[session.Key]bool),
		sessionMaintPeriod: DefaultSessionMaintPeriod,
		stop:               make(chan struct{}),
		newDriver:          device.NewDriver,
	}
	c.sessions = cache.New[session.Key, *session.Session](
		MaxActiveSessions, c.createSession, c.expireSession)
	return c
}

// SetSessionMaintPeriod overrides the idle sweeper's period (from
// config's timers.session_maint_period).
func (c *Controller) SetSessionMaintPeriod(d time.Duration) {
	if d > 0 {
		c.sessionMaintPeriod = d
	}
}

// SetNewDriverForTest overrides driver construction, so callers outside
// this package (rpcserver's tests, chiefly) can exercise a Controller
// without dialing any real transport. Not meant for production wiring.
func (c *Controller) SetNewDriverForTest(f func(info device.DeviceInfo, connectMethod string, timeouts device.Timeouts) (device.Driver, error)) {
	c.newDriver = f
}

// createSession is the session cache's populate callback: resolve
// DeviceInfo, build the vendor driver, and wrap it in a Session. Errors
// here report DONT_POPULATE to the cache (a nil session, not cached) —
// Controller.Request re-raises the underlying error to the caller
// separately, since the cache's callback signature can't propagate one.
func (c *Controller) createSession(key session.Key) (*session.Session, bool) {
	info, ok := c.Registry.DeviceInfo(key.DeviceName)
	if !ok {
		logging.WithDevice(key.DeviceName).Warn("no device metadata found, session not created")
		return nil, false
	}

	drv, err := c.newDriver(info, key.ConnectMethod, c.Timeouts)
	if err != nil {
		logging.WithDevice(key.DeviceName).WithError(err).Error("failed to build device driver")
		return nil, false
	}

	// An empty address list is not rejected here: spec.md §8 Boundary
	// behaviors requires DeviceWithoutAddressError to surface from
	// connect() itself, without any network I/O, which device.DialogDriver
	// already guarantees (see device/profile.go's Connect). Rejecting it
	// earlier here would instead surface as a generic NoSuchDeviceError.
	s := session.New(info.Name, info.Addresses, drv)
	s.SetConnectMethod(key.ConnectMethod)

	c.keysMu.Lock()
	c.liveKeys[key] = true
	c.keysMu.Unlock()
	return s, true
}

// expireSession is the session cache's expire callback.
func (c *Controller) expireSession(key session.Key, s *session.Session) bool {
	if s != nil {
		if err := s.Disconnect(); err != nil {
			logging.WithSession(key.String()).WithError(err).Debug("error disconnecting expired session")
		}
	}
	c.keysMu.Lock()
	delete(c.liveKeys, key)
	c.keysMu.Unlock()
	return true
}

// getSession builds the session key from req and fetches/creates the
// cached Session, or an ApiError explaining why it could not.
func (c *Controller) getSession(req Request) (*session.Session, error) {
	if req.DeviceName == "" {
		return nil, apierrors.NoSuchDevicef("request did not contain a device_name")
	}
	key := session.Key{
		DeviceName:     req.DeviceName,
		ConnectMethod:  req.ConnectMethod,
		User:           req.User,
		PrivilegeLevel: req.PrivilegeLevel,
	}
	s, ok := c.sessions.Get(key)
	if !ok || s == nil {
		return nil, c.sessionCreationError(key, req.DeviceName)
	}
	return s, nil
}

// sessionCreationError re-derives why createSession declined to populate
// a session, so the caller sees the typed kind (NoSuchDeviceError vs.
// NoSuchVendorError, spec.md §6) rather than a catch-all — the cache's
// populate callback signature can't carry an error itself.
func (c *Controller) sessionCreationError(key session.Key, deviceName string) error {
	info, ok := c.Registry.DeviceInfo(deviceName)
	if !ok {
		return apierrors.NoSuchDevicef("unknown device %q", deviceName)
	}
	if _, err := c.newDriver(info, key.ConnectMethod, c.Timeouts); err != nil {
		if _, ok := apierrors.As(err); ok {
			return err
		}
		return apierrors.NoSessionCreatedf("could not create session for %q: %v", deviceName, err)
	}
	return apierrors.NoSessionCreatedf("could not create session for %q", deviceName)
}

// Request executes a device API request, per spec.md §4.7:
// 1. extract device_name, build the session key, fetch/create the session;
// 2. attach the matching credential;
// 3. call session.Request, propagating ApiErrors and wrapping anything else.
func (c *Controller) Request(method string, req Request) (result string, err error) {
	s, err := c.getSession(req)
	if err != nil {
		return "", err
	}

	if c.Credentials == nil {
		return "", apierrors.NoMatchingCredentialf("no credentials store configured")
	}
	cred, err := c.Credentials.Get(req.DeviceName)
	if err != nil {
		return "", err
	}
	s.SetCredential(cred)

	defer func() {
		if r := recover(); r != nil {
			logging.WithDevice(req.DeviceName).Errorf("panic handling request: %v", r)
			err = fmt.Errorf("internal error handling request for %s: %v", req.DeviceName, r)
		}
	}()

	result, err = s.Request(method, req.Args)
	if err != nil {
		if _, ok := apierrors.As(err); ok {
			return "", err
		}
		// Non-ApiError exceptions are masked poorly by RPC-layer error
		// codes, so log the full context here before surfacing a generic
		// error (spec.md §7 Propagation policy).
		logging.WithDevice(req.DeviceName).WithError(err).Error("unexpected error handling request")
		return "", fmt.Errorf("internal error handling request for %s: %w", req.DeviceName, err)
	}
	return result, nil
}

// DevicesMatching returns every known device name matching the anchored
// regexp pattern, delegating to the registry.
func (c *Controller) DevicesMatching(pattern string) ([]string, error) {
	return c.Registry.DevicesMatching(pattern)
}

// DeviceInfo returns registry metadata for a single device name.
func (c *Controller) DeviceInfo(name string) (device.DeviceInfo, bool) {
	return c.Registry.DeviceInfo(name)
}

// RunMaintenance runs the idle sweeper until ctx is cancelled or Stop is
// called (spec.md §4.7 "a background task runs every session_maint_period
// seconds"). Intended to be run in its own goroutine.
func (c *Controller) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(c.sessionMaintPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepIdleSessions()
		}
	}
}

// sweepIdleSessions disconnects any session that has been idle and
// connected for longer than device.MaxIdleTime.
func (c *Controller) sweepIdleSessions() {
	for _, key := range c.sessionKeys() {
		s, ok := c.sessions.Get(key)
		if !ok || s == nil {
			continue
		}
		if !s.Connected() || !s.Idle() {
			continue
		}
		if time.Since(s.LastRequest) > device.MaxIdleTime {
			logging.WithSession(key.String()).Debug("disconnecting idle session")
			if err := s.Disconnect(); err != nil {
				logging.WithSession(key.String()).WithError(err).Debug("idle disconnect failed")
			}
		}
	}
}

// sessionKeys snapshots the currently cached session keys.
func (c *Controller) sessionKeys() []session.Key {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	keys := make([]session.Key, 0, len(c.liveKeys))
	for k := range c.liveKeys {
		keys = append(keys, k)
	}
	return keys
}

// Stop signals RunMaintenance to exit and disconnects every cached
// session (spec.md §4.7 "on shutdown it signals all sessions to
// disconnect").
func (c *Controller) Stop() {
	close(c.stop)
	for _, key := range c.sessionKeys() {
		if s, ok := c.sessions.Get(key); ok && s != nil {
			if err := s.Disconnect(); err != nil {
				logging.WithSession(key.String()).WithError(err).Debug("disconnect during shutdown failed")
			}
		}
	}
}
