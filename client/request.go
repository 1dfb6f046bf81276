// Package client implements the Notch client connection and
// client-side load-balancing RPC transport (component C9, spec.md
// §4.9), grounded on original_source/notch/client/client.py's
// Connection/Request and lb_transport.py's Backend/BackendPolicy.
//
// The Python original is callback-driven on top of monkey-patched
// greenlet sockets; here a Request is a small observable task handle
// (spec.md REDESIGN FLAGS: "task handles... a Request object is
// observable for completed and carries result or error"), and the
// bounded concurrency pool is a buffered channel semaphore instead of
// a green thread pool.
package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// TimeoutError is returned when a Request's timeout_s expires before the
// agent responds (spec.md §4.9, §8 "Client timeout").
var TimeoutError = errors.New("notch client: request timed out")

// RequestCancelledError is returned to every in-flight request when
// Connection.KillAll is called (spec.md §5 Cancellation & timeouts).
var RequestCancelledError = errors.New("notch client: request cancelled")

// Args bundles a Request's keyword arguments; unused fields are ignored
// per method, mirroring session.Args on the agent side.
type Args struct {
	DeviceName     string
	ConnectMethod  string
	User           string
	PrivilegeLevel string

	Command     string
	Mode        string
	Source      string
	Destination string
	ConfigData  string
	Filename    string
	Overwrite   bool

	Regexp string
}

// Request is one Notch API call plus its outcome, observable via
// Completed/Result/Err (spec.md §8 invariant: "Request.completed ⇔
// (result ≠ null ∨ error ≠ null)").
type Request struct {
	Method   string
	Args     Args
	TimeoutS time.Duration

	// Callback, if set, is invoked exactly once when the request
	// finishes (success, error, or timeout), matching
	// Request.callback in the original.
	Callback func(*Request)

	mu        sync.Mutex
	completed bool
	result    json.RawMessage
	err       error

	TimeSent      time.Time
	TimeCompleted time.Time
}

// NewRequest builds a Request for method with args, no timeout.
func NewRequest(method string, args Args) *Request {
	return &Request{Method: method, Args: args}
}

// Completed reports whether the request has a result or an error.
func (r *Request) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Result decodes the response's result field (a base64 string for the
// device-API methods, or an array/object for devices_matching and
// devices_info) into v, or returns false if the request errored or has
// not completed.
func (r *Request) Result(v interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.completed || r.err != nil || r.result == nil {
		return false
	}
	return json.Unmarshal(r.result, v) == nil
}

// StringResult is a convenience for the common case of a plain
// base64-string result (command, get_config, and the other device-API
// methods all return one).
func (r *Request) StringResult() (string, bool) {
	var s string
	if !r.Result(&s) {
		return "", false
	}
	return s, true
}

// Err returns the request's error, or nil if it succeeded or has not
// completed.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// finish records the outcome and fires the callback at most once.
func (r *Request) finish(result json.RawMessage, err error) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return
	}
	r.result = result
	r.err = err
	r.completed = true
	r.TimeCompleted = time.Now()
	cb := r.Callback
	r.mu.Unlock()

	if cb != nil {
		cb(r)
	}
}
