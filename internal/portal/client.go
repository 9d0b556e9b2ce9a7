package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ClientConfig controls collector behavior for one borough session.
type ClientConfig struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	RequestDelay  time.Duration
	Retry         *RetryPolicy
	Logger        *zap.Logger
}

// Page is one completed portal exchange.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Document parses the page body.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", p.URL, err)
	}
	return doc, nil
}

// Client wraps a single Colly collector that keeps cookies for the life of a
// borough session. Idox portals tie the CSRF token to the session cookie, so
// the prime request and the search POST must share one collector.
type Client struct {
	cfg       ClientConfig
	collector *colly.Collector
	transport *http.Transport
	retry     *RetryPolicy
	logger    *zap.Logger

	// mu serializes exchanges so the LimitRule delay stays meaningful.
	mu sync.Mutex
}

// exchange holds one visit's state. It travels with the request inside the
// colly context, so a visit abandoned after cancellation keeps writing into
// its own exchange and can never leak a stale page into the next one.
type exchange struct {
	headers map[string]string
	page    Page
	err     error
}

const exchangeKey = "exchange"

func exchangeFrom(cctx *colly.Context) *exchange {
	if cctx == nil {
		return nil
	}
	ex, _ := cctx.GetAny(exchangeKey).(*exchange)
	return ex
}

// NewClient builds a session-keeping portal client.
func NewClient(cfg ClientConfig) (*Client, error) {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      cfg.RequestDelay,
	}); err != nil {
		return nil, fmt.Errorf("set limit rule: %w", err)
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)

	retry := cfg.Retry
	if retry == nil {
		retry = NewRetryPolicy(3, 500*time.Millisecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{
		cfg:       cfg,
		collector: c,
		transport: transport,
		retry:     retry,
		logger:    logger,
	}
	client.registerHooks()
	return client, nil
}

func (c *Client) registerHooks() {
	c.collector.OnRequest(func(r *colly.Request) {
		ex := exchangeFrom(r.Ctx)
		if ex == nil {
			return
		}
		for key, value := range ex.headers {
			r.Headers.Set(key, value)
		}
	})

	c.collector.OnResponse(func(r *colly.Response) {
		ex := exchangeFrom(r.Ctx)
		if ex == nil {
			return
		}
		ex.page = Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	c.collector.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		ex := exchangeFrom(r.Ctx)
		if ex == nil {
			return
		}
		ex.page.StatusCode = r.StatusCode
		ex.err = err
	})
}

// Get fetches a page, retrying transient failures.
func (c *Client) Get(ctx context.Context, pageURL string) (*Page, error) {
	return c.do(ctx, pageURL, nil, nil)
}

// PostForm submits a form, retrying transient failures. The Referer and
// Origin headers are derived from the target; some portals reject the
// submission without them.
func (c *Client) PostForm(ctx context.Context, formURL string, fields map[string]string) (*Page, error) {
	headers := map[string]string{"Referer": formURL}
	if u, err := url.Parse(formURL); err == nil {
		headers["Origin"] = u.Scheme + "://" + u.Host
	}
	return c.do(ctx, formURL, fields, headers)
}

// Prime fetches the search form page and extracts the CSRF token bound to
// this session's cookie. An absent token field yields "" without error.
func (c *Client) Prime(ctx context.Context, searchURL string) (string, error) {
	page, err := c.Get(ctx, searchURL)
	if err != nil {
		return "", fmt.Errorf("prime search page: %w", err)
	}
	doc, err := page.Document()
	if err != nil {
		return "", err
	}
	token, _ := doc.Find("input[name=_csrf]").First().Attr("value")
	return token, nil
}

func (c *Client) do(ctx context.Context, target string, fields, headers map[string]string) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, c.retry.Backoff(attempt-1)); err != nil {
				return nil, err
			}
			c.logger.Debug("retrying portal request",
				zap.String("url", target),
				zap.Int("attempt", attempt+1),
			)
		}

		page, err := c.exchangeOnce(ctx, target, fields, headers)
		if err == nil {
			return page, nil
		}
		lastErr = err

		status := 0
		if page != nil {
			status = page.StatusCode
		}
		if !c.retry.ShouldRetry(err, status, attempt+1) {
			return nil, err
		}
	}
	return nil, lastErr
}

// exchangeOnce runs one collector visit. The returned page carries the
// status code even on error so the retry policy can classify it.
func (c *Client) exchangeOnce(ctx context.Context, target string, fields, headers map[string]string) (*Page, error) {
	ex := &exchange{headers: headers}
	cctx := colly.NewContext()
	cctx.Put(exchangeKey, ex)

	done := make(chan error, 1)
	go func() {
		if fields != nil {
			body := strings.NewReader(encodeForm(fields))
			hdr := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
			done <- c.collector.Request(http.MethodPost, target, body, cctx, hdr)
		} else {
			done <- c.collector.Request(http.MethodGet, target, nil, cctx, nil)
		}
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		// the abandoned visit keeps writing into ex, which nothing reads
		return nil, fmt.Errorf("portal request canceled: %w", ctx.Err())
	case visitErr = <-done:
	}

	err := ex.err
	if err == nil {
		err = visitErr
	}
	if err != nil {
		return &ex.page, c.classifyError(err, ex.page.StatusCode, target)
	}
	if ex.page.StatusCode == http.StatusForbidden {
		return &ex.page, fmt.Errorf("%w: %s returned 403", ErrBlocked, target)
	}
	return &ex.page, nil
}

func encodeForm(fields map[string]string) string {
	values := url.Values{}
	for key, value := range fields {
		values.Set(key, value)
	}
	return values.Encode()
}

func (c *Client) classifyError(err error, status int, target string) error {
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return fmt.Errorf("%w: %s", ErrRobotsDisallowed, target)
	}
	if status == http.StatusForbidden {
		return fmt.Errorf("%w: %s returned 403", ErrBlocked, target)
	}
	return fmt.Errorf("portal request %s: %w", target, err)
}

// Shutdown releases idle connections held by the session transport.
func (c *Client) Shutdown() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
