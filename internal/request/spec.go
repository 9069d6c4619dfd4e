// Package request describes a single HTTP call handed to the job dispatcher.
//
// A Spec is a plain value built once by the caller. The dispatcher keeps its own
// deep copy (Clone) at submission time, so mutating a Spec after Submit never
// affects a dispatched job.
package request

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultContentType is used when a Spec carries a body but no content type
const DefaultContentType = "text/plain"

// Validation errors
var (
	ErrEmptyURL          = errors.New("url is empty")
	ErrInvalidURL        = errors.New("url is invalid")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrBodyAndFields     = errors.New("body and form fields are mutually exclusive")
	ErrInvalidField      = errors.New("invalid form field")
	ErrNegativeTimeout   = errors.New("timeout must not be negative")
	ErrInvalidProxy      = errors.New("proxy url is invalid")
)

// Method is an HTTP request method supported by the dispatcher
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
	MethodHead   Method = "HEAD"
)

// ParseMethod maps a case-insensitive method name to a Method.
// An empty name is GET.
func ParseMethod(name string) (Method, error) {
	if strings.TrimSpace(name) == "" {
		return MethodGet, nil
	}
	m := Method(strings.ToUpper(strings.TrimSpace(name)))
	if !m.Supported() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, name)
	}
	return m, nil
}

// Supported reports whether the dispatcher can issue this method
func (m Method) Supported() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodHead:
		return true
	}
	return false
}

// Header is one request or response header line. Order is preserved.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// FieldType selects how a multipart field value is interpreted
type FieldType string

const (
	FieldSimple FieldType = "simple" // value is sent as-is
	FieldFile   FieldType = "file"   // value is a local file path, sent as a file part
)

// Field is one multipart/form-data part
type Field struct {
	Type  FieldType `json:"type" yaml:"type"`
	Name  string    `json:"name" yaml:"name"`
	Value string    `json:"value" yaml:"value"`
}

// TLSOptions controls server certificate verification.
// The zero value verifies both the certificate chain and the host name.
type TLSOptions struct {
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	SkipHostnameVerify bool   `json:"skip_hostname_verify" yaml:"skip_hostname_verify"`
	CACertFile         string `json:"ca_cert_file" yaml:"ca_cert_file"`
}

// ProxyOptions routes the request through an HTTP(S) proxy
type ProxyOptions struct {
	URL         string `json:"url" yaml:"url"`
	Credentials string `json:"credentials" yaml:"credentials"` // user:password
	CACertFile  string `json:"ca_cert_file" yaml:"ca_cert_file"`
}

// Spec describes one HTTP call
type Spec struct {
	URL            string
	Method         Method
	Headers        []Header
	ContentType    string
	UserAgent      string
	Body           []byte
	Fields         []Field
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Auth           Auth
	TLS            TLSOptions
	Proxy          ProxyOptions
}

// New returns a Spec for method and url with no body
func New(method Method, rawURL string) *Spec {
	return &Spec{URL: rawURL, Method: method}
}

// Validate checks everything the dispatcher needs before accepting the Spec
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return ErrEmptyURL
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if s.Method != "" && !s.Method.Supported() {
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, s.Method)
	}

	if len(s.Body) > 0 && len(s.Fields) > 0 {
		return ErrBodyAndFields
	}
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrInvalidField, i)
		}
		switch f.Type {
		case "", FieldSimple:
		case FieldFile:
			if f.Value == "" {
				return fmt.Errorf("%w: file field %q has no path", ErrInvalidField, f.Name)
			}
		default:
			return fmt.Errorf("%w: field %q has type %q", ErrInvalidField, f.Name, f.Type)
		}
	}

	if s.ConnectTimeout < 0 || s.RequestTimeout < 0 {
		return ErrNegativeTimeout
	}

	if s.Proxy.URL != "" {
		pu, err := url.Parse(s.Proxy.URL)
		if err != nil || pu.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidProxy, s.Proxy.URL)
		}
	}
	return nil
}

// EffectiveMethod is the method actually sent (GET when unset)
func (s *Spec) EffectiveMethod() Method {
	if s.Method == "" {
		return MethodGet
	}
	return s.Method
}

// EffectiveContentType is the Content-Type sent with a raw body
func (s *Spec) EffectiveContentType() string {
	if s.ContentType == "" {
		return DefaultContentType
	}
	return s.ContentType
}

// Clone returns a deep copy of the Spec
func (s *Spec) Clone() *Spec {
	c := *s
	if s.Headers != nil {
		c.Headers = append([]Header(nil), s.Headers...)
	}
	if s.Body != nil {
		c.Body = append([]byte(nil), s.Body...)
	}
	if s.Fields != nil {
		c.Fields = append([]Field(nil), s.Fields...)
	}
	return &c
}

// Response is what a transport returns for a completed HTTP exchange
type Response struct {
	StatusCode int
	Header     []Header
	Body       []byte
}
