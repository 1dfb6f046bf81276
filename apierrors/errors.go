// Package apierrors defines the Notch API error taxonomy: a tagged set of
// error kinds carrying explicit retry/disconnect flags, plus the stable
// JSON-RPC code table used to cross the wire (spec.md §6, §7).
//
// The original Python agent attached dynamic attributes to exception
// instances (e.full.retry, e.disconnect_on_error); here each kind is a
// distinct value with its flags fixed at construction, per the REDESIGN
// FLAGS note on tagged sum types.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the API-visible error classes from spec.md §6.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindDisconnect
	KindInvalidDevice
	KindInvalidMode
	KindInvalidRequest
	KindNoAddresses
	KindNoSuchVendor
	KindNoSessionCreated
	KindAuthentication
	KindCommand
	KindEOF
	KindNoMatchingCredential
	KindDownload
	KindUpload
	KindNoSuchDevice
	KindEnable
)

// names mirrors notch/agent/errors.py's error_dictionary, reversed: kind -> name.
var names = map[Kind]string{
	KindConnect:              "ConnectError",
	KindDisconnect:           "DisconnectError",
	KindInvalidDevice:        "InvalidDeviceError",
	KindInvalidMode:          "InvalidModeError",
	KindInvalidRequest:       "InvalidRequestError",
	KindNoAddresses:          "NoAddressesError",
	KindNoSuchVendor:         "NoSuchVendorError",
	KindNoSessionCreated:     "NoSessionCreatedError",
	KindAuthentication:       "AuthenticationError",
	KindCommand:              "CommandError",
	KindEOF:                  "EOFError",
	KindNoMatchingCredential: "NoMatchingCredentialError",
	KindDownload:             "DownloadError",
	KindUpload:               "UploadError",
	KindNoSuchDevice:         "NoSuchDeviceError",
	KindEnable:               "EnableError",
}

// codes is the stable JSON-RPC integer code table from spec.md §6.
var codes = map[Kind]int{
	KindConnect:              1,
	KindDisconnect:           2,
	KindInvalidDevice:        3,
	KindInvalidMode:          4,
	KindInvalidRequest:       5,
	KindNoAddresses:          6,
	KindNoSuchVendor:         7,
	KindNoSessionCreated:     8,
	KindAuthentication:       9,
	KindCommand:              10,
	KindEOF:                  11,
	KindNoMatchingCredential: 12,
	KindDownload:             13,
	KindUpload:               14,
	KindNoSuchDevice:         15,
	KindEnable:               16,
}

var kindsByCode = func() map[int]Kind {
	m := make(map[int]Kind, len(codes))
	for k, c := range codes {
		m[c] = k
	}
	return m
}()

// String returns the stable name used on the wire and in logs.
func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "UnknownError"
}

// Code returns the JSON-RPC error code for k, or 0 if k is not a
// wire-visible kind (should not happen for any constant above).
func (k Kind) Code() int {
	return codes[k]
}

// KindForCode reverses Code; ok is false for unrecognized codes, in which
// case callers should treat the error as a generic ApiError.
func KindForCode(code int) (Kind, bool) {
	k, ok := kindsByCode[code]
	return k, ok
}

// ApiError is the single concrete error type for all API-visible failures.
// Each Kind carries fixed flags (CommandError always disconnects on error,
// EOFError always retries) matching notch/agent/errors.py's per-class
// attributes, but as explicit fields rather than inherited class state.
type ApiError struct {
	Kind    Kind
	Message string

	// Cause is the underlying error this ApiError was built from, if any.
	// Kept so callers can errors.As/Is through to classify the original
	// failure (e.g. device/profile.go's do-not-retry network check)
	// without this package itself knowing about net.OpError or syscall.
	Cause error

	// DampenReconnect suppresses immediate reconnect churn after a
	// ConnectError.
	DampenReconnect bool
	// DisconnectOnError means the Session disconnects before surfacing
	// this error (true for CommandError).
	DisconnectOnError bool
	// Retry means the Session gets exactly one reconnect-and-retry
	// (set for EOF classified by Transport).
	Retry bool
}

func (e *ApiError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Unwrap exposes Cause to errors.As/errors.Is.
func (e *ApiError) Unwrap() error { return e.Cause }

func newf(kind Kind, dampen, disconnect, retry bool, format string, args ...interface{}) *ApiError {
	return &ApiError{
		Kind:              kind,
		Message:           fmt.Sprintf(format, args...),
		DampenReconnect:   dampen,
		DisconnectOnError: disconnect,
		Retry:             retry,
	}
}

func Connectf(format string, args ...interface{}) *ApiError {
	return newf(KindConnect, true, false, false, format, args...)
}

// Connectw builds a ConnectError the same way Connectf does, but retains
// cause so callers downstream (device/profile.go's address-iteration
// do-not-retry classification) can unwrap to the original dial error.
func Connectw(cause error, format string, args ...interface{}) *ApiError {
	e := newf(KindConnect, true, false, false, format, args...)
	e.Cause = cause
	return e
}

func Disconnectf(format string, args ...interface{}) *ApiError {
	return newf(KindDisconnect, false, false, false, format, args...)
}

func InvalidDevicef(format string, args ...interface{}) *ApiError {
	return newf(KindInvalidDevice, false, false, false, format, args...)
}

func InvalidModef(format string, args ...interface{}) *ApiError {
	return newf(KindInvalidMode, false, false, false, format, args...)
}

func InvalidRequestf(format string, args ...interface{}) *ApiError {
	return newf(KindInvalidRequest, false, false, false, format, args...)
}

func NoAddressesf(format string, args ...interface{}) *ApiError {
	return newf(KindNoAddresses, false, false, false, format, args...)
}

func NoSuchVendorf(format string, args ...interface{}) *ApiError {
	return newf(KindNoSuchVendor, false, false, false, format, args...)
}

func NoSessionCreatedf(format string, args ...interface{}) *ApiError {
	return newf(KindNoSessionCreated, false, false, false, format, args...)
}

func Authenticationf(format string, args ...interface{}) *ApiError {
	return newf(KindAuthentication, false, false, false, format, args...)
}

// Commandf builds a CommandError. retry should be true when the
// Transport classified the underlying failure (typically EOF-during-command)
// as retryable; see spec.md §4.1 Failure classification.
func Commandf(retry bool, format string, args ...interface{}) *ApiError {
	return newf(KindCommand, false, true, retry, format, args...)
}

// EOFf builds an EOFError, which always retries by construction
// (notch/agent/errors.py: "class EOFError(ApiError): retry = True").
func EOFf(format string, args ...interface{}) *ApiError {
	return newf(KindEOF, false, false, true, format, args...)
}

func NoMatchingCredentialf(format string, args ...interface{}) *ApiError {
	return newf(KindNoMatchingCredential, false, false, false, format, args...)
}

func Downloadf(format string, args ...interface{}) *ApiError {
	return newf(KindDownload, false, false, false, format, args...)
}

func Uploadf(format string, args ...interface{}) *ApiError {
	return newf(KindUpload, false, false, false, format, args...)
}

func NoSuchDevicef(format string, args ...interface{}) *ApiError {
	return newf(KindNoSuchDevice, false, false, false, format, args...)
}

func Enablef(format string, args ...interface{}) *ApiError {
	return newf(KindEnable, false, false, false, format, args...)
}

// NotImplemented reports that a Driver does not support an optional
// operation (get_config, lock, etc. — spec.md §4.2).
func NotImplemented(op string) *ApiError {
	return newf(KindInvalidRequest, false, false, false, "operation %q not implemented by this driver", op)
}

// As reports whether err is an *ApiError, unwrapping if necessary.
func As(err error) (*ApiError, bool) {
	var ae *ApiError
	ok := errors.As(err, &ae)
	return ae, ok
}
