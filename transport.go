package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sandrolain/httpclient/header"
)

// CRLCheckPolicy selects certificate revocation checking behavior. The
// policy is carried on the client and handed to the Transport; the default
// net/http-backed transport performs standard chain verification and leaves
// revocation retrieval to custom Transport implementations.
type CRLCheckPolicy int

const (
	// CRLCheckNone performs no revocation checking.
	CRLCheckNone CRLCheckPolicy = iota
	// CRLCheckSoftFail checks revocation where possible and tolerates
	// unavailable revocation data.
	CRLCheckSoftFail
	// CRLCheckHardFail checks revocation and fails the handshake when
	// revocation data is unavailable.
	CRLCheckHardFail
)

// TransportResponse is the wire-level result of one round trip, before the
// engine wraps it into a Response.
type TransportResponse struct {
	StatusCode    int
	ReasonPhrase  string
	Protocol      string
	Header        *header.Header
	Body          io.ReadCloser
	ContentLength int64
}

// Transport sends a prepared request over a connection. Implementations
// must honor the connection's per-I/O timeout and observe cancellation via
// Connection.Done.
type Transport interface {
	Send(ctx context.Context, conn *Connection, req *Request) (*TransportResponse, error)
}

// netTransport is the default Transport, driving one net/http transport
// session per Connection. HTTP/1.1 only; chunked bodies are forwarded
// transparently and `Connection: close` from either side prevents reuse.
type netTransport struct {
	crlPolicy CRLCheckPolicy
}

func newNetTransport(crl CRLCheckPolicy) *netTransport {
	return &netTransport{crlPolicy: crl}
}

// Send performs one HTTP/1.1 round trip on conn.
func (t *netTransport) Send(ctx context.Context, conn *Connection, req *Request) (*TransportResponse, error) {
	if conn.IsCancelled() {
		return nil, newError(KindInterrupted, "connection is cancelled")
	}
	session, err := t.session(conn)
	if err != nil {
		return nil, err
	}

	// Tie the request context to connection cancellation so Cancel
	// interrupts blocked I/O.
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	res, err := session.RoundTrip(httpReq)
	if err != nil {
		cancel()
		if conn.IsCancelled() {
			return nil, wrapError(KindInterrupted, err, "request interrupted")
		}
		return nil, mapNetError(err)
	}

	return &TransportResponse{
		StatusCode:    res.StatusCode,
		ReasonPhrase:  reasonPhrase(res),
		Protocol:      res.Proto,
		Header:        header.FromHTTP(res.Header),
		Body:          &cancelOnCloseBody{rc: res.Body, cancel: cancel},
		ContentLength: res.ContentLength,
	}, nil
}

// cancelOnCloseBody releases the per-request context once the body is
// closed so the cancellation watcher goroutine exits.
type cancelOnCloseBody struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Read(p []byte) (int, error) { return b.rc.Read(p) }

func (b *cancelOnCloseBody) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}

func (t *netTransport) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	var contentLength int64 = 0
	if rb := req.Body(); rb != nil {
		r, err := rb.Reader()
		if err != nil {
			return nil, wrapError(KindExecution, err, "open request body")
		}
		body = r
		contentLength = rb.Length()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), req.URLString(), body)
	if err != nil {
		return nil, wrapError(KindIllegalArgument, err, "build request")
	}
	if body != nil {
		httpReq.ContentLength = contentLength
	}
	req.Header().Range(func(name, value string) bool {
		httpReq.Header.Add(name, value)
		return true
	})
	if rb := req.Body(); rb != nil && rb.MediaType() != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", rb.MediaType())
	}
	return httpReq, nil
}

// session returns the connection's underlying net/http transport, building
// it on first use from the connection identity.
func (t *netTransport) session(conn *Connection) (*http.Transport, error) {
	if existing := conn.getSession(); existing != nil {
		return existing, nil
	}
	identity := conn.Identity()
	timeout := identity.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ht := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          1,
		MaxConnsPerHost:       1,
		IdleConnTimeout:       DefaultKeepAliveTimeout,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	if identity.Proxy != "" {
		proxyURL, err := url.Parse("http://" + identity.Proxy)
		if err != nil {
			return nil, wrapError(KindIllegalArgument, err, "invalid proxy %q", identity.Proxy)
		}
		ht.Proxy = http.ProxyURL(proxyURL)
	}
	if identity.Scheme == "https" {
		tlsConf, err := t.tlsConfig(identity)
		if err != nil {
			return nil, err
		}
		ht.TLSClientConfig = tlsConf
	}
	return conn.setSession(ht), nil
}

func (t *netTransport) tlsConfig(identity ConnectionIdentity) (*tls.Config, error) {
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if identity.RootCAFile == "" && identity.RootCADirectory == "" {
		return conf, nil
	}
	pool := x509.NewCertPool()
	appendFile := func(path string) error {
		pem, err := os.ReadFile(path)
		if err != nil {
			return wrapError(KindSsl, err, "read root CA %q", path)
		}
		if !pool.AppendCertsFromPEM(pem) {
			GetLogger().Warn("no certificates found in root CA file", "path", path)
		}
		return nil
	}
	if identity.RootCAFile != "" {
		if err := appendFile(identity.RootCAFile); err != nil {
			return nil, err
		}
	}
	if identity.RootCADirectory != "" {
		entries, err := os.ReadDir(identity.RootCADirectory)
		if err != nil {
			return nil, wrapError(KindSsl, err, "read root CA directory %q", identity.RootCADirectory)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := appendFile(filepath.Join(identity.RootCADirectory, e.Name())); err != nil {
				return nil, err
			}
		}
	}
	conf.RootCAs = pool
	return conf, nil
}

// reasonPhrase extracts the reason phrase from a net/http status line.
func reasonPhrase(res *http.Response) string {
	status := res.Status
	if i := strings.IndexByte(status, ' '); i >= 0 {
		return status[i+1:]
	}
	return http.StatusText(res.StatusCode)
}

// mapNetError classifies transport failures into the package taxonomy.
func mapNetError(err error) error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapError(KindTimeout, err, "i/o timeout")
	}
	if errors.Is(err, context.Canceled) {
		return wrapError(KindInterrupted, err, "request interrupted")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapError(KindTimeout, err, "deadline exceeded")
	}
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidCert) {
		return wrapError(KindSsl, err, "certificate validation failed")
	}
	return wrapError(KindExecution, err, "transport failure")
}

// identityFor derives the connection identity for a request under the
// given client configuration.
func identityFor(req *Request, proxy, rootCADir, rootCAFile string, timeout time.Duration) ConnectionIdentity {
	u := req.URL()
	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	} else if u.Scheme == "https" {
		port = 443
	} else {
		port = 80
	}
	return ConnectionIdentity{
		Scheme:          u.Scheme,
		Host:            u.Hostname(),
		Port:            port,
		Proxy:           proxy,
		RootCADirectory: rootCADir,
		RootCAFile:      rootCAFile,
		Timeout:         timeout,
	}
}
