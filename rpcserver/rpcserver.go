// Package rpcserver implements the JSON-RPC 2.0 surface (component C8,
// spec.md §4.8) over HTTP: one handler at a fixed path dispatching
// command/get_config/.../devices_matching/devices_info to the
// controller, mapping apierrors.ApiError kinds to the stable wire code
// table in spec.md §6. The framing itself (routing, config, CLI) is an
// external collaborator per spec.md §1 Scope — only the dispatch and
// error-mapping logic lives here.
package rpcserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/controller"
	"github.com/nanoncore/notch/internal/logging"
	"github.com/nanoncore/notch/session"
)

// Path is the fixed JSON-RPC endpoint path, per spec.md §6.
const Path = "/JSONRPC2"

// DefaultAsyncWorkers bounds the asynchronous mode's worker pool.
const DefaultAsyncWorkers = 64

// rpcRequest is one JSON-RPC 2.0 request object.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is one JSON-RPC 2.0 response object; Result and Error are
// mutually exclusive, matching spec.md §6.
type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// params is the union of every method's accepted keyword arguments, JSON
// shaped the way a JSON-RPC client would send them.
type params struct {
	DeviceName     string `json:"device_name"`
	ConnectMethod  string `json:"connect_method"`
	User           string `json:"user"`
	PrivilegeLevel string `json:"privilege_level"`

	Command     string `json:"command"`
	Mode        string `json:"mode"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	ConfigData  string `json:"config_data"`
	Filename    string `json:"filename"`
	Overwrite   bool   `json:"overwrite"`

	Regexp string `json:"regexp"`
}

// deviceAPIMethods is the set of Notch device-API RPC method names,
// spec.md §4.8.
var deviceAPIMethods = map[string]bool{
	"command":       true,
	"get_config":    true,
	"set_config":    true,
	"copy_file":     true,
	"upload_file":   true,
	"download_file": true,
	"delete_file":   true,
	"lock":          true,
	"unlock":        true,
}

// Server serves the Notch JSON-RPC API over HTTP.
type Server struct {
	Controller *controller.Controller

	// Async selects execution mode: true dispatches each request onto a
	// bounded worker pool (the HTTP response is written once the worker
	// completes); false handles the request inline on the HTTP handler's
	// own goroutine, for hosting behind a synchronous WSGI-style server
	// (spec.md §4.8 "Two execution modes").
	Async bool

	sem chan struct{}
}

// New constructs a Server. workers bounds the asynchronous worker pool
// (ignored in synchronous mode); 0 uses DefaultAsyncWorkers.
func New(ctrl *controller.Controller, async bool, workers int) *Server {
	if workers <= 0 {
		workers = DefaultAsyncWorkers
	}
	return &Server{
		Controller: ctrl,
		Async:      async,
		sem:        make(chan struct{}, workers),
	}
}

// ServeHTTP implements http.Handler, dispatching JSON-RPC 2.0 requests
// posted to Path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "JSON-RPC requires POST", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	if s.Async {
		done := make(chan rpcResponse, 1)
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			done <- s.handle(req)
		}()
		writeResponse(w, <-done)
		return
	}
	writeResponse(w, s.handle(req))
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Log.WithError(err).Error("failed to encode JSON-RPC response")
	}
}

// handle dispatches a single decoded request and maps any error to the
// stable JSON-RPC code table (spec.md §6).
func (s *Server) handle(req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	var p params
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: "invalid params"}
			return resp
		}
	}

	result, err := s.dispatch(req.Method, p)
	if err != nil {
		resp.Error = toRPCError(err)
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) dispatch(method string, p params) (interface{}, error) {
	switch method {
	case "devices_matching":
		return s.Controller.DevicesMatching(p.Regexp)
	case "devices_info":
		info, ok := s.Controller.DeviceInfo(p.DeviceName)
		if !ok {
			return nil, apierrors.NoSuchDevicef("unknown device %q", p.DeviceName)
		}
		return info, nil
	default:
		if !deviceAPIMethods[method] {
			return nil, apierrors.InvalidRequestf("method %q not part of the device API", method)
		}
		return s.Controller.Request(method, controller.Request{
			DeviceName:     p.DeviceName,
			ConnectMethod:  p.ConnectMethod,
			User:           p.User,
			PrivilegeLevel: p.PrivilegeLevel,
			Args: session.Args{
				Command:     p.Command,
				Mode:        p.Mode,
				Source:      p.Source,
				Destination: p.Destination,
				ConfigData:  p.ConfigData,
				Filename:    p.Filename,
				Overwrite:   p.Overwrite,
			},
		})
	}
}

// toRPCError maps err to a JSON-RPC error object using the stable code
// table; non-ApiError errors become a generic internal error, per
// spec.md §7 "Controller wraps unknown exceptions... surfaces as a
// generic internal error over RPC".
func toRPCError(err error) *rpcError {
	if ae, ok := apierrors.As(err); ok {
		return &rpcError{Code: ae.Kind.Code(), Message: ae.Error()}
	}
	return &rpcError{Code: -32603, Message: fmt.Sprintf("internal error: %v", err)}
}
