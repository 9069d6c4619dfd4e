package jobs

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/zep-us/httpjobs/internal/dispatch"
	"github.com/zep-us/httpjobs/internal/request"
)

var errFileFieldsDisabled = errors.New("file fields are disabled (allow_file_fields = false)")

// JobRequest is the JSON body of POST /v1/jobs/:family and POST /v1/perform
type JobRequest struct {
	URL              string               `json:"url"`
	Method           string               `json:"method"`
	Headers          []request.Header     `json:"headers"`
	ContentType      string               `json:"content_type"`
	UserAgent        string               `json:"user_agent"`
	Body             string               `json:"body"`
	Fields           []request.Field      `json:"fields"`
	ConnectTimeoutMs int                  `json:"connect_timeout_ms"`
	TimeoutMs        int                  `json:"timeout_ms"`
	Auth             request.Auth         `json:"auth"`
	TLS              request.TLSOptions   `json:"tls"`
	Proxy            request.ProxyOptions `json:"proxy"`
}

// Spec converts the payload into a request spec. File fields are refused unless allowFiles is set.
func (r *JobRequest) Spec(allowFiles bool) (*request.Spec, error) {
	method, err := request.ParseMethod(r.Method)
	if err != nil {
		return nil, err
	}
	if !allowFiles {
		for _, f := range r.Fields {
			if f.Type == request.FieldFile {
				return nil, fmt.Errorf("field %q: %w", f.Name, errFileFieldsDisabled)
			}
		}
	}
	if r.ConnectTimeoutMs < 0 || r.TimeoutMs < 0 {
		return nil, request.ErrNegativeTimeout
	}

	spec := &request.Spec{
		URL:            r.URL,
		Method:         method,
		Headers:        r.Headers,
		ContentType:    r.ContentType,
		UserAgent:      r.UserAgent,
		Fields:         r.Fields,
		ConnectTimeout: time.Duration(r.ConnectTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(r.TimeoutMs) * time.Millisecond,
		Auth:           r.Auth,
		TLS:            r.TLS,
		Proxy:          r.Proxy,
	}
	if r.Body != "" {
		spec.Body = []byte(r.Body)
	}
	return spec, nil
}

// SubmitResponse is returned by POST /v1/jobs/:family
type SubmitResponse struct {
	JID dispatch.ID `json:"jid"`
}

// ResultResponse carries a completed job. Class mirrors the result object name scripts expect.
// Body holds the response body when it is valid UTF-8; otherwise Body is empty and BodyB64 holds
// the raw bytes in standard base64.
type ResultResponse struct {
	Class      string           `json:"class"`
	JID        dispatch.ID      `json:"jid"`
	Code       int              `json:"code"`
	Failed     bool             `json:"failed"`
	Body       string           `json:"body"`
	BodyB64    string           `json:"body_b64,omitempty"`
	Headers    []request.Header `json:"headers"`
	DurationMs int64            `json:"duration_ms"`
}

func newResultResponse(res dispatch.Result) ResultResponse {
	headers := res.Header
	if headers == nil {
		headers = []request.Header{}
	}
	resp := ResultResponse{
		Class:      "CurlResult",
		JID:        res.ID,
		Code:       res.Code,
		Failed:     res.Failed(),
		Headers:    headers,
		DurationMs: res.Duration.Milliseconds(),
	}
	if utf8.Valid(res.Body) {
		resp.Body = string(res.Body)
	} else {
		resp.BodyB64 = base64.StdEncoding.EncodeToString(res.Body)
	}
	return resp
}

// JobResponse is the state of a job still held by a dispatcher
type JobResponse struct {
	JID         dispatch.ID `json:"jid"`
	State       string      `json:"state"`
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Code        *int        `json:"code,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
