package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Failure codes. They follow libcurl's CURLcode numbering and are all below 100,
// so a result code is either one of these or an HTTP status.
const (
	CodeMalformedURL     = 3
	CodeProxyUnresolved  = 5
	CodeHostUnresolved   = 6
	CodeConnectFailed    = 7
	CodeFileRead         = 26
	CodeTimeout          = 28
	CodeTLSHandshake     = 35
	CodeCancelled        = 42
	CodeTooManyRedirects = 47
	CodeReceiveError     = 56
	CodePeerVerification = 60
	CodeCACert           = 77
)

// IsFailureCode reports whether code is a transport failure code rather than an HTTP status
func IsFailureCode(code int) bool {
	return code > 0 && code < 100
}

// Error is a transport failure with its numeric code
type Error struct {
	Code int    // one of the Code* constants
	Op   string // stage that failed: "request", "dial", "tls", "body", ...
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v (code %d)", e.Op, e.Err, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// FailureCode exposes the code to consumers that only know the interface { FailureCode() int }
func (e *Error) FailureCode() int { return e.Code }

func newError(code int, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// classify maps an error returned while executing a request to an *Error.
// ctx is the request-scoped context, so its error tells cancellation apart from our own timeout.
func classify(ctx context.Context, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return newError(CodeCancelled, "request", err)
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return newError(CodeTimeout, "request", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeTimeout, "request", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(CodeTimeout, "request", err)
	}

	if isCertificateError(err) {
		return newError(CodePeerVerification, "tls", err)
	}

	viaProxy := false
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		viaProxy = true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if viaProxy {
			return newError(CodeProxyUnresolved, "proxyconnect", err)
		}
		return newError(CodeHostUnresolved, "dial", err)
	}

	if isTLSError(err) {
		return newError(CodeTLSHandshake, "tls", err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || (opErr != nil && (opErr.Op == "dial" || viaProxy)) {
		return newError(CodeConnectFailed, "dial", err)
	}

	return newError(CodeReceiveError, "request", err)
}

func isCertificateError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification)
}

func isTLSError(err error) bool {
	var (
		header tls.RecordHeaderError
		alert  tls.AlertError
	)
	if errors.As(err, &header) || errors.As(err, &alert) {
		return true
	}
	return strings.Contains(err.Error(), "tls: ")
}
