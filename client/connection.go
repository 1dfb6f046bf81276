package client

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultConcurrency is the bounded pool size absent NOTCH_CONCURRENCY or
// an explicit argument (client.py's DEFAULT_NOTCH_CONCURRENCY).
const DefaultConcurrency = 50

// ErrNoAgents is returned by New when no backend addresses are given
// (client.py's NoAgentsError).
var ErrNoAgents = errors.New("notch client: no agent addresses supplied")

// Connection is a client connection to one or more Notch agents,
// grounded on client.py's Connection: xmlrpclib-style helper methods
// plus exec_request/exec_requests, backed by a bounded concurrency pool
// and a load-balancing choice of backend per request.
type Connection struct {
	Path string

	policy BackendPolicy

	mu          sync.Mutex
	concurrency int
	sem         chan struct{}

	cancelMu sync.Mutex
	cancel   map[*Request]context.CancelFunc
}

// Option configures New.
type Option func(*Connection)

// WithPolicy overrides the default LowestLatency policy.
func WithPolicy(policy BackendPolicy) Option {
	return func(c *Connection) { c.policy = policy }
}

// WithConcurrency overrides the pool size (else NOTCH_CONCURRENCY env,
// else DefaultConcurrency).
func WithConcurrency(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPath overrides the RPC handler path (default "/JSONRPC2").
func WithPath(path string) Option {
	return func(c *Connection) { c.Path = path }
}

// New builds a Connection to the given agent host[:port] addresses.
func New(agents []string, opts ...Option) (*Connection, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}

	c := &Connection{
		Path:   "/JSONRPC2",
		cancel: make(map[*Request]context.CancelFunc),
	}
	if v := os.Getenv("NOTCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.concurrency = n
		}
	}
	if c.concurrency == 0 {
		c.concurrency = DefaultConcurrency
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.policy == nil {
		backends := make([]*Backend, 0, len(agents))
		for _, a := range agents {
			backends = append(backends, NewBackend(a, c.Path))
		}
		c.policy = NewLowestLatency(backends)
	}

	c.sem = make(chan struct{}, c.concurrency)
	return c, nil
}

// NumRequestsRunning reports how many pool slots are currently occupied.
func (c *Connection) NumRequestsRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sem)
}

// shrinkPoolTo resizes the semaphore down to n slots. Requests already
// holding a slot release it into the semaphore they acquired it from, so
// the old slots drain away as those requests finish (spec.md §4.9 "too many open files" handling; client.py's
// self._pool.resize call in _send_notch_api_request).
func (c *Connection) shrinkPoolTo(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 {
		n = 1
	}
	if n >= c.concurrency {
		return
	}
	c.concurrency = n
	c.sem = make(chan struct{}, n)
}

func isTooManyOpenFiles(err error) bool {
	return errors.Is(err, syscall.EMFILE)
}

// ExecRequest runs one Request through the pool and returns it once
// complete, or immediately (with a nil return) if the Request has a
// callback, matching client.py's exec_request.
func (c *Connection) ExecRequest(req *Request) *Request {
	results := c.ExecRequests([]*Request{req})
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// ExecRequests runs every request in reqs through the bounded pool.
// Requests without a Callback block until complete and are returned;
// requests with a Callback are dispatched and omitted from the return
// value, matching client.py's _exec_requests.
func (c *Connection) ExecRequests(reqs []*Request) []*Request {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*Request
	)

	for _, req := range reqs {
		req := req
		async := req.Callback != nil
		if !async {
			wg.Add(1)
		}

		c.mu.Lock()
		sem := c.sem
		c.mu.Unlock()
		sem <- struct{}{}
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelMu.Lock()
		c.cancel[req] = cancel
		c.cancelMu.Unlock()

		go func() {
			defer func() {
				<-sem
				c.cancelMu.Lock()
				delete(c.cancel, req)
				c.cancelMu.Unlock()
				cancel()
				if !async {
					wg.Done()
				}
			}()
			c.runOne(ctx, req)
		}()

		if !async {
			mu.Lock()
			results = append(results, req)
			mu.Unlock()
		}
	}

	wg.Wait()
	return results
}

// runOne executes req against the load-balanced backend, enforcing
// TimeoutS if set (spec.md §8 "Client timeout").
func (c *Connection) runOne(ctx context.Context, req *Request) {
	req.TimeSent = time.Now()

	if req.TimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.TimeoutS)
		defer cancel()
	}

	backend := c.policy.Next()
	result, err := backend.Send(ctx, requestParams(req), req.Method)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			req.finish(nil, TimeoutError)
			return
		}
		if ctx.Err() == context.Canceled {
			req.finish(nil, RequestCancelledError)
			return
		}
		if isTooManyOpenFiles(err) {
			c.shrinkPoolTo(c.NumRequestsRunning())
		}
		req.finish(nil, err)
		return
	}
	req.finish(result, nil)
}

// requestParams builds the JSON-RPC params object for req, shaped the
// way rpcserver's params struct decodes it.
func requestParams(req *Request) map[string]interface{} {
	a := req.Args
	return map[string]interface{}{
		"device_name":     a.DeviceName,
		"connect_method":  a.ConnectMethod,
		"user":            a.User,
		"privilege_level": a.PrivilegeLevel,
		"command":         a.Command,
		"mode":            a.Mode,
		"source":          a.Source,
		"destination":     a.Destination,
		"config_data":     a.ConfigData,
		"filename":        a.Filename,
		"overwrite":       a.Overwrite,
		"regexp":          a.Regexp,
	}
}

// KillAll cancels every in-flight request with RequestCancelledError
// (spec.md §5 "kill_all() cancels every in-flight client task").
func (c *Connection) KillAll() {
	c.cancelMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.cancel))
	for _, cancel := range c.cancel {
		cancels = append(cancels, cancel)
	}
	c.cancelMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Command executes a CLI command on device_name, blocking until the
// base64-encoded result or error is available (client.py's command
// method).
func (c *Connection) Command(deviceName, command string) (string, error) {
	req := NewRequest("command", Args{DeviceName: deviceName, Command: command})
	c.ExecRequest(req)
	return stringResultOrErr(req)
}

// DevicesMatching queries the load-balanced agent for device names
// matching regexp (client.py's devices_matching method).
func (c *Connection) DevicesMatching(regexp string) ([]string, error) {
	req := NewRequest("devices_matching", Args{Regexp: regexp})
	c.ExecRequest(req)
	if err := req.Err(); err != nil {
		return nil, err
	}
	var names []string
	req.Result(&names)
	return names, nil
}

// DevicesInfo fetches raw device metadata JSON for name; callers decode
// it with device.DeviceInfo's json tags if they need the typed form
// (kept untyped here so the client package has no import-cycle-prone
// dependency on the agent-side registry types).
func (c *Connection) DevicesInfo(name string) (map[string]interface{}, error) {
	req := NewRequest("devices_info", Args{DeviceName: name})
	c.ExecRequest(req)
	if err := req.Err(); err != nil {
		return nil, err
	}
	var info map[string]interface{}
	req.Result(&info)
	return info, nil
}

// DownloadFile downloads source from device_name to destination.
func (c *Connection) DownloadFile(deviceName, source, destination string, overwrite bool) (string, error) {
	req := NewRequest("download_file", Args{
		DeviceName: deviceName, Source: source, Destination: destination, Overwrite: overwrite,
	})
	c.ExecRequest(req)
	return stringResultOrErr(req)
}

func stringResultOrErr(req *Request) (string, error) {
	if err := req.Err(); err != nil {
		return "", err
	}
	result, _ := req.StringResult()
	return result, nil
}

// agentsFromEnv parses the NOTCH_AGENTS environment variable, a
// comma-separated list of host[:port] pairs (spec.md §6 Environment).
func agentsFromEnv() []string {
	v := os.Getenv("NOTCH_AGENTS")
	if v == "" {
		return nil
	}
	var agents []string
	for _, a := range strings.Split(v, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			agents = append(agents, a)
		}
	}
	return agents
}

// NewFromEnv builds a Connection from NOTCH_AGENTS if agents is empty.
func NewFromEnv(agents []string, opts ...Option) (*Connection, error) {
	if len(agents) == 0 {
		agents = agentsFromEnv()
	}
	return New(agents, opts...)
}
