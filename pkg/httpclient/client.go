// Package httpclient provides the outbound HTTP client used for all
// upstream media and metadata fetches.
//
// Two transports are maintained: a pooled default transport, and a client
// with a browser-like TLS fingerprint (utls, Chrome hello) for hosts fronted
// by fingerprint-sensitive CDNs. An optional forward proxy (HTTP or SOCKS5)
// can be applied to the default transport.
package httpclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kumo-stream-go/pkg/config"
	"kumo-stream-go/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Client routes upstream requests to the appropriate transport.
type Client struct {
	standard    *http.Client
	impersonate *http.Client
	hosts       []string
	log         *logging.Logger
}

// New creates a client from proxy configuration.
func New(cfg config.ProxyConfig, log *logging.Logger) (*Client, error) {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext:           dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	if cfg.Upstream != "" {
		if err := applyForwardProxy(transport, cfg.Upstream); err != nil {
			return nil, fmt.Errorf("configuring forward proxy: %w", err)
		}
	}

	return &Client{
		standard: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		impersonate: &http.Client{
			Transport: newImpersonatingRoundTripper(),
			Timeout:   timeout,
		},
		hosts: cfg.ImpersonateHosts,
		log:   log.WithComponent("httpclient"),
	}, nil
}

// Do executes the request with the transport matching its target host.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.needsImpersonation(req.URL.String()) {
		c.log.Debug("using impersonating transport", "url", req.URL.String())
		return c.impersonate.Do(req)
	}
	return c.standard.Do(req)
}

func (c *Client) needsImpersonation(target string) bool {
	lower := strings.ToLower(target)
	for _, h := range c.hosts {
		if strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// applyForwardProxy wires an HTTP or SOCKS5 forward proxy into the transport.
func applyForwardProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parsing proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			return fmt.Errorf("creating SOCKS5 dialer: %w", err)
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		return fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	return nil
}

// dialContext forces IPv4. Several upstream media CDNs publish AAAA records
// that are unreachable from common container environments.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 60 * time.Second,
	}
	return d.DialContext(ctx, network, addr)
}

// impersonatingRoundTripper performs HTTPS requests with a Chrome TLS
// fingerprint, speaking HTTP/2 when the server negotiates it.
type impersonatingRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
}

func newImpersonatingRoundTripper() *impersonatingRoundTripper {
	return &impersonatingRoundTripper{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{},
	}
}

func (t *impersonatingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr += ":443"
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(tlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2Conn.RoundTrip(req)
	}

	return t.doHTTP1(tlsConn, req)
}

func (t *impersonatingRoundTripper) doHTTP1(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

// connCloser ties the connection lifetime to the response body.
type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}
