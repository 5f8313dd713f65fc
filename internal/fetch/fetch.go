// Package fetch retrieves the calendar page over plain HTTP with conditional
// requests, retries, robots.txt compliance and charset decoding.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
)

const maxBodyBytes = 8 << 20

// ErrDisallowed is returned when robots.txt forbids fetching the page.
var ErrDisallowed = errors.New("fetch disallowed by robots.txt")

// StatusError is a non-2xx, non-304 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Meta are the cache validators stored between runs.
type Meta struct {
	ETag         string
	LastModified string
}

// Result is the outcome of a fetch.
type Result struct {
	Body        []byte // UTF-8
	NotModified bool
	Meta        Meta
	Status      int
	Attempts    int
}

// Options configure a Fetcher.
type Options struct {
	Timeout       time.Duration
	UserAgent     string
	Retries       int
	RespectRobots bool
	// BaseDelay is the first retry delay; each later delay is delay*2 + BaseDelay.
	BaseDelay time.Duration
}

// Fetcher performs page fetches.
type Fetcher struct {
	client    *http.Client
	opts      Options
	mu        sync.Mutex
	robots    map[string]*robotstxt.RobotsData
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "cheekschecker/1.0"
	}
	return &Fetcher{
		opts:   opts,
		robots: make(map[string]*robotstxt.RobotsData),
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		sleepFunc: sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetch gets pageURL, sending prev's validators. A 304 yields NotModified with
// no body. Network errors, 5xx and 429 are retried; other statuses fail at once.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, prev Meta) (*Result, error) {
	if f.opts.RespectRobots {
		allowed, err := f.Allowed(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, pageURL)
		}
	}

	delay := f.opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= f.opts.Retries; attempt++ {
		res, err := f.fetchOnce(ctx, pageURL, prev)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		log.WithFields(log.Fields{"attempt": attempt, "url": pageURL}).WithError(err).Warn("Fetch attempt failed")
		if attempt == f.opts.Retries {
			break
		}
		if err := f.sleepFunc(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
		}
		delay = delay*2 + f.opts.BaseDelay
	}
	return nil, fmt.Errorf("fetching %s: %w", pageURL, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string, prev Meta) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if prev.ETag != "" {
		req.Header.Set("If-None-Match", prev.ETag)
	}
	if prev.LastModified != "" {
		req.Header.Set("If-Modified-Since", prev.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	meta := Meta{ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified")}
	if resp.StatusCode == http.StatusNotModified {
		if meta.ETag == "" {
			meta.ETag = prev.ETag
		}
		if meta.LastModified == "" {
			meta.LastModified = prev.LastModified
		}
		return &Result{NotModified: true, Meta: meta, Status: resp.StatusCode}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detecting charset: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return &Result{Body: body, Meta: meta, Status: resp.StatusCode}, nil
}

// Allowed checks robots.txt for pageURL. Results are cached per host. An
// unreachable robots.txt allows the fetch.
func (f *Fetcher) Allowed(ctx context.Context, pageURL string) (bool, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false, fmt.Errorf("parsing url: %w", err)
	}

	f.mu.Lock()
	data, ok := f.robots[u.Host]
	f.mu.Unlock()
	if !ok {
		data, err = f.loadRobots(ctx, u)
		if err != nil {
			log.WithField("host", u.Host).WithError(err).Warn("robots.txt unavailable, assuming allowed")
			return true, nil
		}
		f.mu.Lock()
		f.robots[u.Host] = data
		f.mu.Unlock()
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, f.opts.UserAgent), nil
}

func (f *Fetcher) loadRobots(ctx context.Context, page *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: page.Scheme, Host: page.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, err
	}
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}
