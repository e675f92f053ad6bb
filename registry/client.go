// Package registry fetches the apparatus assignment register over HTTP and
// exposes it page by page as a scraper.PageFetcher.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/bizkut/callsignscrapper/scraper"
)

type Config struct {
	BaseURL       string
	ApparatusType string
	UserAgent     string
	Timeout       time.Duration
	Retries       int
	RetryWait     time.Duration
	NavigateDelay time.Duration
	Logger        *zap.Logger
}

// Client opens a new browsing identity, with its own cookie jar, for every
// call to Open.
type Client struct {
	cfg  Config
	base *url.URL
	log  *zap.Logger
}

var _ scraper.FetcherFactory = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.ApparatusType != "" {
		q := base.Query()
		q.Set("type", cfg.ApparatusType)
		base.RawQuery = q.Encode()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg, base: base, log: cfg.Logger}, nil
}

// LandingURL is the first page requested by every identity.
func (c *Client) LandingURL() string {
	return c.base.String()
}

func (c *Client) newHTTP() (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := resty.New()
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if c.cfg.UserAgent != "" {
		client.SetHeader("User-Agent", c.cfg.UserAgent)
	}
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")
	client.SetTimeout(c.cfg.Timeout)
	client.SetRetryCount(c.cfg.Retries)
	if c.cfg.RetryWait > 0 {
		client.SetRetryWaitTime(c.cfg.RetryWait)
		client.SetRetryMaxWaitTime(c.cfg.RetryWait * 8)
	}
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
		code := res.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	})
	return client, nil
}

func (c *Client) Open(ctx context.Context, identity scraper.Identity, startPage int) (scraper.PageFetcher, error) {
	httpClient, err := c.newHTTP()
	if err != nil {
		return nil, err
	}
	f := &fetcher{c: c, http: httpClient, page: 1, log: c.log.With(zap.String("identity", identity.ID))}

	f.log.Debug("loading register", zap.String("url", c.LandingURL()))
	if err := f.get(ctx, c.base); err != nil {
		_ = f.Close()
		return nil, err
	}
	if f.blocked() {
		f.log.Warn("landing page is a block page", zap.String("title", f.title), zap.Int("status", f.status))
		return f, nil
	}

	if button, form, ok := findSearchButton(f.doc); ok {
		sub, err := buildForm(form, f.url, button)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("search form: %w", err)
		}
		f.log.Debug("submitting search form", zap.String("action", sub.action.String()))
		if err := f.submit(ctx, sub); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else {
		f.log.Debug("search form not found, using default results")
	}

	if startPage > 1 {
		if err := f.seek(ctx, startPage); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

type fetcher struct {
	c    *Client
	http *resty.Client
	log  *zap.Logger

	page   int
	url    *url.URL
	doc    *goquery.Document
	status int
	title  string
}

func (f *fetcher) CurrentRows(ctx context.Context) ([]scraper.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.doc == nil {
		return nil, nil
	}
	return extractRows(f.doc), nil
}

func (f *fetcher) AdvancePage(ctx context.Context) (bool, error) {
	t, ok := findNext(f.doc, f.url)
	if !ok {
		return false, nil
	}
	if !t.postBack && t.href.String() == f.url.String() {
		return false, nil
	}
	if err := f.follow(ctx, t); err != nil {
		return false, err
	}
	f.page++
	return true, nil
}

func (f *fetcher) IsSoftBlocked(ctx context.Context) (bool, error) {
	return f.blocked(), nil
}

func (f *fetcher) Close() error {
	f.http.GetClient().CloseIdleConnections()
	return nil
}

func (f *fetcher) blocked() bool {
	switch f.status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return looksBlocked(f.title)
}

// seek moves from the first result page to page n, jumping directly when a
// numbered link is visible and stepping with the next control otherwise.
func (f *fetcher) seek(ctx context.Context, n int) error {
	f.log.Info("navigating to start page", zap.Int("page", n))
	for f.page < n {
		if f.blocked() {
			f.log.Warn("blocked while navigating", zap.Int("reached", f.page))
			return nil
		}
		if t, ok := findPageLink(f.doc, f.url, n); ok {
			if err := f.follow(ctx, t); err != nil {
				return err
			}
			f.page = n
			break
		}
		ok, err := f.AdvancePage(ctx)
		if err != nil {
			return err
		}
		if !ok {
			f.log.Info("could not navigate further", zap.Int("reached", f.page))
			return fmt.Errorf("page %d: %w", n, scraper.ErrPageOutOfRange)
		}
		if f.page%10 == 0 {
			f.log.Debug("navigated", zap.Int("page", f.page))
		}
		if err := scraper.SleepContext(ctx, f.c.cfg.NavigateDelay); err != nil {
			return err
		}
	}
	return nil
}

func (f *fetcher) follow(ctx context.Context, t target) error {
	if !t.postBack {
		return f.get(ctx, t.href)
	}
	form := postBackForm(f.doc)
	if form.Length() == 0 {
		return fmt.Errorf("post back to %q without a form", t.eventName)
	}
	sub, err := buildForm(form, f.url, nil)
	if err != nil {
		return err
	}
	sub.method = http.MethodPost
	sub.values.Set("__EVENTTARGET", t.eventName)
	sub.values.Set("__EVENTARGUMENT", t.eventArg)
	return f.submit(ctx, sub)
}

func (f *fetcher) get(ctx context.Context, u *url.URL) error {
	res, err := f.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return fmt.Errorf("get %s: %w", u, err)
	}
	return f.load(res)
}

func (f *fetcher) submit(ctx context.Context, sub formSubmission) error {
	req := f.http.R().SetContext(ctx)
	var (
		res *resty.Response
		err error
	)
	if sub.method == http.MethodPost {
		res, err = req.SetFormDataFromValues(sub.values).Post(sub.action.String())
	} else {
		u := *sub.action
		u.RawQuery = sub.values.Encode()
		res, err = req.Get(u.String())
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(sub.method), sub.action, err)
	}
	return f.load(res)
}

func (f *fetcher) load(res *resty.Response) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return fmt.Errorf("parse %s: %w", res.Request.URL, err)
	}
	f.status = res.StatusCode()
	f.doc = doc
	f.title = pageTitle(doc)
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		f.url = raw.Request.URL
	} else if u, err := url.Parse(res.Request.URL); err == nil {
		f.url = u
	}
	if f.status >= 400 && !f.blocked() {
		return fmt.Errorf("unexpected status %d from %s", f.status, f.url)
	}
	return nil
}
