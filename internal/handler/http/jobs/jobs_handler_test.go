package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zep-us/httpjobs/internal/client"
	"github.com/zep-us/httpjobs/internal/dispatch"
	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/internal/transport"
)

func newTarget(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/binary" {
			w.Write([]byte{0xff, 0xfe, 0x00, 'a'})
			return
		}
		if r.URL.Path == "/slow" {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
				return
			}
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		io.WriteString(w, r.URL.Path+" "+string(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newServer(t *testing.T, opts client.Options, allowFiles bool) (*echo.Echo, *client.Client) {
	t.Helper()
	c, err := client.New(opts, transport.NewHTTP(transport.Options{}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown(context.Background()) })

	e := echo.New()
	NewJobsHandler(c, allowFiles).SetupRoutes(e)
	return e, c
}

func defaultOptions() client.Options {
	return client.Options{AsyncCapacity: 4, BgCapacity: 4, BgPoolSize: 2, ShutdownGrace: 50 * time.Millisecond}
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func pollResult(t *testing.T, e *echo.Echo, family string) ResultResponse {
	t.Helper()
	var res ResultResponse
	require.Eventually(t, func() bool {
		rec := do(e, http.MethodGet, "/v1/jobs/"+family+"/result", "")
		if rec.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rec.Body.Bytes(), &res) == nil
	}, 5*time.Second, 5*time.Millisecond)
	return res
}

func TestJobsHandler_SubmitAndPoll(t *testing.T) {
	srv := newTarget(t)
	e, _ := newServer(t, defaultOptions(), false)

	for _, family := range []string{"bg", "async"} {
		t.Run(family, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/v1/jobs/"+family,
				`{"url":"`+srv.URL+`/echo","method":"POST","body":"ping"}`)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

			var sub SubmitResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
			assert.NotEqual(t, dispatch.NoID, sub.JID)

			res := pollResult(t, e, family)
			assert.Equal(t, "CurlResult", res.Class)
			assert.Equal(t, sub.JID, res.JID)
			assert.Equal(t, http.StatusOK, res.Code)
			assert.False(t, res.Failed)
			assert.Equal(t, "/echo ping", res.Body)
			assert.Contains(t, res.Headers, request.Header{Name: "X-Method", Value: "POST"})

			rec = do(e, http.MethodGet, "/v1/jobs/"+family+"/result", "")
			assert.Equal(t, http.StatusNoContent, rec.Code, "a result is delivered once")
		})
	}
}

func TestJobsHandler_SubmitRejections(t *testing.T) {
	srv := newTarget(t)
	e, _ := newServer(t, defaultOptions(), false)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown family", "/v1/jobs/later", `{"url":"` + srv.URL + `"}`, http.StatusNotFound},
		{"malformed json", "/v1/jobs/bg", `{"url":`, http.StatusBadRequest},
		{"empty url", "/v1/jobs/bg", `{}`, http.StatusBadRequest},
		{"bad method", "/v1/jobs/bg", `{"url":"` + srv.URL + `","method":"TRACE"}`, http.StatusBadRequest},
		{"negative timeout", "/v1/jobs/bg", `{"url":"` + srv.URL + `","timeout_ms":-1}`, http.StatusBadRequest},
		{"file field disabled", "/v1/jobs/async",
			`{"url":"` + srv.URL + `","method":"POST","fields":[{"type":"file","name":"f","value":"/etc/hostname"}]}`,
			http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestJobsHandler_CapacityReturns503(t *testing.T) {
	srv := newTarget(t)
	opts := defaultOptions()
	opts.AsyncCapacity = 1
	e, _ := newServer(t, opts, false)

	rec := do(e, http.MethodPost, "/v1/jobs/async", `{"url":"`+srv.URL+`/slow"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(e, http.MethodPost, "/v1/jobs/async", `{"url":"`+srv.URL+`/slow"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobsHandler_ShutdownReturns503(t *testing.T) {
	srv := newTarget(t)
	e, c := newServer(t, defaultOptions(), false)
	require.NoError(t, c.Shutdown(context.Background()))

	rec := do(e, http.MethodPost, "/v1/jobs/bg", `{"url":"`+srv.URL+`"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobsHandler_JobState(t *testing.T) {
	srv := newTarget(t)
	e, _ := newServer(t, defaultOptions(), false)

	rec := do(e, http.MethodPost, "/v1/jobs/bg", `{"url":"`+srv.URL+`/slow"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))

	rec = do(e, http.MethodGet, "/v1/jobs/bg/"+strconv.FormatUint(uint64(sub.JID), 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, sub.JID, job.JID)
	assert.Contains(t, []string{"pending", "running"}, job.State)
	assert.Equal(t, "GET", job.Method)
	assert.Nil(t, job.Code)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/v1/jobs/bg/999", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/v1/jobs/async/"+strconv.FormatUint(uint64(sub.JID), 10), "").Code,
		"ids are per family")
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/jobs/bg/abc", "").Code)
}

func TestJobsHandler_Perform(t *testing.T) {
	srv := newTarget(t)
	e, _ := newServer(t, defaultOptions(), false)

	rec := do(e, http.MethodPost, "/v1/perform", `{"url":"`+srv.URL+`/sync","method":"PUT","body":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, dispatch.NoID, res.JID)
	assert.Equal(t, "/sync x", res.Body)

	rec = do(e, http.MethodPost, "/v1/perform", `{"url":"`+srv.URL+`/slow","timeout_ms":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, transport.CodeTimeout, res.Code)
	assert.True(t, res.Failed)

	rec = do(e, http.MethodPost, "/v1/perform", `{"url":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsHandler_BinaryBodyIsBase64(t *testing.T) {
	srv := newTarget(t)
	e, _ := newServer(t, defaultOptions(), false)

	rec := do(e, http.MethodPost, "/v1/perform", `{"url":"`+srv.URL+`/binary"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Body)
	raw, err := base64.StdEncoding.DecodeString(res.BodyB64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe, 0x00, 'a'}, raw)

	rec = do(e, http.MethodPost, "/v1/perform", `{"url":"`+srv.URL+`/text"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "body_b64", "text bodies are sent as-is")
}

func TestJobsHandler_Stats(t *testing.T) {
	srv := newTarget(t)
	e, _ := newServer(t, defaultOptions(), false)

	require.Equal(t, http.StatusAccepted, do(e, http.MethodPost, "/v1/jobs/async", `{"url":"`+srv.URL+`"}`).Code)

	rec := do(e, http.MethodGet, "/v1/jobs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[dispatch.Strategy]dispatch.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats[dispatch.StrategyCooperative].Outstanding)
	assert.Equal(t, 4, stats[dispatch.StrategyThreaded].Capacity)
}

func TestJobRequest_SpecAllowsFilesWhenEnabled(t *testing.T) {
	payload := JobRequest{
		URL:              "http://example.com/upload",
		Method:           "post",
		Fields:           []request.Field{{Type: "file", Name: "f", Value: "/tmp/x"}},
		ConnectTimeoutMs: 1500,
	}

	_, err := payload.Spec(false)
	assert.ErrorIs(t, err, errFileFieldsDisabled)

	spec, err := payload.Spec(true)
	require.NoError(t, err)
	assert.Equal(t, "POST", string(spec.Method))
	assert.Equal(t, 1500*time.Millisecond, spec.ConnectTimeout)
	assert.Nil(t, spec.Body)
}
