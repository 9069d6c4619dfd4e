package transport

import (
	"io"
	"net/http"
	"strings"

	"github.com/icholy/digest"

	"github.com/zep-us/httpjobs/internal/request"
)

// authTransport wraps next for challenge-based schemes. Digest answers Digest challenges;
// any answers whichever of Digest or Basic the server offers.
func authTransport(kind request.AuthType, user, pass string, next http.RoundTripper) http.RoundTripper {
	if kind == request.AuthAny {
		return &anyAuthTransport{user: user, pass: pass, next: next}
	}
	return &digest.Transport{
		Username:  user,
		Password:  pass,
		Transport: next,
	}
}

// anyAuthTransport sends the request unauthenticated first and answers the 401 challenge.
// Digest is preferred when both schemes are offered.
type anyAuthTransport struct {
	user string
	pass string
	next http.RoundTripper
}

func (a *anyAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := a.next.RoundTrip(req)
	if err != nil || res.StatusCode != http.StatusUnauthorized {
		return res, err
	}

	digestChal, basic := challenges(res.Header)
	if digestChal == "" && !basic {
		return res, nil
	}

	retry, ok := replay(req)
	if !ok {
		return res, nil
	}

	if digestChal != "" {
		chal, perr := digest.ParseChallenge(digestChal)
		if perr != nil {
			return res, nil
		}
		cred, derr := digest.Digest(chal, digest.Options{
			Method:   req.Method,
			URI:      req.URL.RequestURI(),
			GetBody:  req.GetBody,
			Count:    1,
			Username: a.user,
			Password: a.pass,
		})
		if derr != nil {
			return res, nil
		}
		retry.Header.Set("Authorization", cred.String())
	} else {
		retry.SetBasicAuth(a.user, a.pass)
	}

	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return a.next.RoundTrip(retry)
}

// challenges returns the first Digest challenge and whether Basic is offered
func challenges(h http.Header) (string, bool) {
	var (
		digestChal string
		basic      bool
	)
	for _, v := range h.Values("WWW-Authenticate") {
		scheme := strings.ToLower(strings.TrimSpace(v))
		switch {
		case strings.HasPrefix(scheme, "digest") && digestChal == "":
			digestChal = v
		case strings.HasPrefix(scheme, "basic"):
			basic = true
		}
	}
	return digestChal, basic
}

// replay clones req with a fresh body
func replay(req *http.Request) (*http.Request, bool) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}
