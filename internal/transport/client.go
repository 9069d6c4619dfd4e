package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zep-us/httpjobs/internal/request"
)

// clientKey identifies connection-level settings; requests sharing a key share a connection pool
type clientKey struct {
	tls     request.TLSOptions
	proxy   request.ProxyOptions
	connect time.Duration
}

func (t *HTTP) buildTransport(key clientKey) (http.RoundTripper, *Error) {
	tlsConfig, err := t.tlsConfig(key.tls, key.proxy)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   key.connect,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   key.connect,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsConfig,
	}

	if key.proxy.URL != "" {
		proxyURL, perr := url.Parse(key.proxy.URL)
		if perr != nil {
			return nil, newError(CodeMalformedURL, "proxy", perr)
		}
		if key.proxy.Credentials != "" {
			user, pass, _ := strings.Cut(key.proxy.Credentials, ":")
			proxyURL.User = url.UserPassword(user, pass)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	return tr, nil
}

// tlsConfig builds the client TLS settings. CA files for the target and the proxy are both
// added to one root pool, on top of the system roots.
func (t *HTTP) tlsConfig(opts request.TLSOptions, proxy request.ProxyOptions) (*tls.Config, *Error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	var caFiles []string
	if opts.CACertFile != "" {
		caFiles = append(caFiles, opts.CACertFile)
	}
	if proxy.CACertFile != "" {
		caFiles = append(caFiles, proxy.CACertFile)
	}
	if len(caFiles) > 0 {
		roots, err := x509.SystemCertPool()
		if err != nil || roots == nil {
			roots = x509.NewCertPool()
		}
		for _, f := range caFiles {
			if err := t.appendCA(roots, f); err != nil {
				return nil, err
			}
		}
		cfg.RootCAs = roots
	}

	switch {
	case opts.InsecureSkipVerify:
		cfg.InsecureSkipVerify = true
	case opts.SkipHostnameVerify:
		// chain is still verified, only the name check is dropped
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = verifyChainOnly(cfg.RootCAs)
	}
	return cfg, nil
}

func (t *HTTP) appendCA(pool *x509.CertPool, file string) *Error {
	path := t.resolveCertPath(file)
	pem, err := os.ReadFile(path)
	if err != nil {
		return newError(CodeCACert, "cacert", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return newError(CodeCACert, "cacert", fmt.Errorf("no certificates found in %s", path))
	}
	return nil
}

func (t *HTTP) resolveCertPath(file string) string {
	if filepath.IsAbs(file) || t.opts.CertsDir == "" {
		return file
	}
	return filepath.Join(t.opts.CertsDir, file)
}

func verifyChainOnly(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("tls: server presented no certificates")
		}
		intermediates := x509.NewCertPool()
		for _, c := range cs.PeerCertificates[1:] {
			intermediates.AddCert(c)
		}
		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		return err
	}
}
