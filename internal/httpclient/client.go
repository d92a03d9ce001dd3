package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultUserAgent = "EASM-Scanner/1.0"
	DefaultTimeout   = 10 * time.Second
	MaxRedirects     = 5
	MaxBodySize      = 5 << 20
)

type Config struct {
	Timeout         time.Duration
	UserAgent       string
	Headers         map[string]string
	Cookies         map[string]string
	Proxy           string
	FollowRedirects bool
}

// ConfigFromOptions builds a client config from scan options, using def
// as the timeout when the options carry none.
func ConfigFromOptions(opts models.Options, def time.Duration) Config {
	return Config{
		Timeout:         opts.TimeoutOr(def),
		UserAgent:       opts.UserAgent,
		Headers:         opts.Headers,
		Cookies:         opts.Cookies,
		Proxy:           opts.Proxy,
		FollowRedirects: opts.Redirects(),
	}
}

type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       string
	Duration   time.Duration
}

// Client accepts every status code; only transport failures are errors.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	cookies   map[string]string
	logger    *logrus.Logger
}

func New(cfg Config, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	proxyFn := http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		proxyURL, err := ParseProxy(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		proxyFn = http.ProxyURL(proxyURL)
	}

	transport := &http.Transport{
		// detectors probe misconfigured hosts, certificate problems included
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}, //nolint:gosec
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		Proxy:                 proxyFn,
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	maxRedirects := 0
	if cfg.FollowRedirects {
		maxRedirects = MaxRedirects
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects == 0 {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Client{
		client:    client,
		userAgent: cfg.UserAgent,
		headers:   cfg.Headers,
		cookies:   cfg.Cookies,
		logger:    logger,
	}, nil
}

// ParseProxy accepts "host:port" or a full proxy URL.
func ParseProxy(proxy string) (*url.URL, error) {
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("invalid proxy %q: host and port are required", proxy)
	}
	return u, nil
}

// HTTPClient exposes the underlying client for SDKs that take one.
func (c *Client) HTTPClient() *http.Client { return c.client }

func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil)
}

func (c *Client) Do(ctx context.Context, method, rawURL string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	c.logger.Debugf("HTTP Request: %s %s", method, rawURL)
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debugf("HTTP Error: %v", err)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	c.logger.Debugf("HTTP Response: %d %s", resp.StatusCode, rawURL)

	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(data),
		Duration:   time.Since(start),
	}, nil
}

// JoinPath appends a raw, possibly pre-encoded, path to base without
// normalising it.
func JoinPath(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
