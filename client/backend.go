package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanoncore/notch/apierrors"
)

// BackendState is the backend lifecycle from the client's point of view.
type BackendState int

const (
	BackendIdle BackendState = iota
	BackendActive
	BackendConnected
	BackendError
)

func (s BackendState) String() string {
	switch s {
	case BackendActive:
		return "ACTIVE"
	case BackendConnected:
		return "CONNECTED"
	case BackendError:
		return "ERROR"
	default:
		return "IDLE"
	}
}

// Backend is one agent endpoint, grounded on lb_transport.py's Backend:
// an address plus the RPC plumbing and the per-backend counters a
// BackendPolicy consults (spec.md §4.9 "Each request records
// last_request_rtt, byte counts, and error counts per backend").
type Backend struct {
	Address string // host[:port]
	Path    string // RPC handler path, e.g. "/JSONRPC2"
	UseSSL  bool

	httpClient *http.Client

	mu             sync.Mutex
	lastRequestRTT time.Duration
	hasRTT         bool
	bytesSent      uint64
	bytesRecv      uint64
	totalRequests  uint64
	errorRequests  uint64
	lastErrored    bool

	inflight int32
}

// NewBackend constructs a Backend talking to address over path.
func NewBackend(address, path string) *Backend {
	if path == "" {
		path = "/JSONRPC2"
	}
	return &Backend{
		Address:    address,
		Path:       path,
		httpClient: &http.Client{},
	}
}

func (b *Backend) url() string {
	scheme := "http://"
	if b.UseSSL {
		scheme = "https://"
	}
	return scheme + b.Address + b.Path
}

// LastRTT returns the most recently recorded round-trip time and
// whether any request has completed yet (LowestLatencyPolicy's "while
// any backend has no recorded RTT, pick randomly").
func (b *Backend) LastRTT() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRequestRTT, b.hasRTT
}

// Inflight reports the number of RPCs currently outstanding on this
// backend.
func (b *Backend) Inflight() int {
	return int(atomic.LoadInt32(&b.inflight))
}

// State derives the backend's current lifecycle state: ACTIVE while an
// RPC is in flight, ERROR if the most recent request failed, CONNECTED
// once at least one request has completed, IDLE before any traffic.
func (b *Backend) State() BackendState {
	if b.Inflight() > 0 {
		return BackendActive
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.lastErrored:
		return BackendError
	case b.totalRequests > 0:
		return BackendConnected
	default:
		return BackendIdle
	}
}

type rpcEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts one JSON-RPC request to this backend and records the
// RTT/byte/error counters a BackendPolicy reads, per lb_transport.py's
// LoadBalancingTransport.request / BackendPolicy.report_response. The
// raw result is returned undecoded: device-API methods carry a base64
// string, devices_matching/devices_info carry an array or object.
func (b *Backend) Send(ctx context.Context, params interface{}, method string) (json.RawMessage, error) {
	atomic.AddInt32(&b.inflight, 1)
	defer atomic.AddInt32(&b.inflight, -1)

	start := time.Now()
	body, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		b.reportResponse(start, 0, err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(), bytes.NewReader(body))
	if err != nil {
		b.reportResponse(start, 0, err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.reportResponse(start, 0, err)
		return nil, err
	}
	defer resp.Body.Close()

	var reply rpcReply
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		b.reportResponse(start, 0, err)
		return nil, err
	}

	b.mu.Lock()
	b.bytesSent += uint64(len(body))
	b.mu.Unlock()

	if reply.Error != nil {
		err := errorFromCode(reply.Error.Code, reply.Error.Message)
		b.reportResponse(start, 0, err)
		return nil, err
	}

	b.reportResponse(start, len(reply.Result), nil)
	return reply.Result, nil
}

// reportResponse records the RTT and byte/error counters for one
// completed request, per BackendPolicy.report_response.
func (b *Backend) reportResponse(start time.Time, responseBytes int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRequests++
	b.lastErrored = err != nil
	if err != nil {
		b.errorRequests++
	} else {
		b.bytesRecv += uint64(responseBytes)
	}
	rtt := time.Since(start)
	if rtt < 0 {
		rtt = 0
	}
	b.lastRequestRTT = rtt
	b.hasRTT = true
}

// errorFromCode translates a JSON-RPC error code back to a named
// ApiError using the reverse of the server's code table (spec.md §4.9
// "Error propagation"), falling back to a generic ApiError for unknown
// codes.
func errorFromCode(code int, message string) error {
	kind, ok := apierrors.KindForCode(code)
	if !ok {
		return fmt.Errorf("notch: unknown error code %d: %s", code, message)
	}
	return &apierrors.ApiError{Kind: kind, Message: message}
}
