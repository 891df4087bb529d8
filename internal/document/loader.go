package document

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/logger"
)

// maxConcurrentFetches bounds parallel stylesheet downloads.
const maxConcurrentFetches = 4

// Loader reads documents from disk or HTTP and resolves their linked stylesheets.
type Loader struct {
	cfg    *config.Config
	client *resty.Client
	log    *zap.SugaredLogger
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient makes the loader issue requests through hc.
func WithHTTPClient(hc *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = newClient(l.cfg, hc)
	}
}

// NewLoader creates a Loader using the fetch settings from cfg.
func NewLoader(cfg *config.Config, opts ...LoaderOption) *Loader {
	l := &Loader{
		cfg:    cfg,
		client: newClient(cfg, &http.Client{}),
		log:    logger.For(logger.ComponentLoader),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newClient(cfg *config.Config, hc *http.Client) *resty.Client {
	c := resty.NewWithClient(hc)
	c.SetTimeout(cfg.Fetch.Timeout)
	if cfg.Fetch.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.Fetch.UserAgent)
	}
	return c
}

// Load reads and parses the document at source (a file path or http(s) URL)
// and resolves every linked stylesheet. Stylesheet failures never fail the load;
// they leave the sheet inaccessible with Err set.
func (l *Loader) Load(ctx context.Context, source string) (*Document, error) {
	data, err := l.read(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", source, err)
	}

	doc, err := Parse(bytes.NewReader(data), source)
	if err != nil {
		return nil, err
	}

	if err := l.LoadStylesheets(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadStylesheets fetches all unresolved linked stylesheets of doc concurrently.
func (l *Loader) LoadStylesheets(ctx context.Context, doc *Document) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for _, sheet := range doc.Stylesheets {
		if sheet.Inline || sheet.Accessible {
			continue
		}
		sheet := sheet
		g.Go(func() error {
			l.loadSheet(gctx, doc, sheet)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("loading stylesheets: %w", err)
	}
	return ctx.Err()
}

func (l *Loader) loadSheet(ctx context.Context, doc *Document, sheet *Stylesheet) {
	target, err := url.Parse(sheet.Href)
	if err != nil {
		sheet.Err = fmt.Errorf("parsing stylesheet href %q: %w", sheet.Href, err)
		return
	}

	switch target.Scheme {
	case "http", "https", "file":
	default:
		sheet.Err = fmt.Errorf("%w: %s", ErrUnsupportedScheme, sheet.Href)
		l.log.Debugf("skipping stylesheet %s: %v", sheet.Href, sheet.Err)
		return
	}

	if !l.cfg.AllowCrossOrigin && !sameOrigin(doc.BaseURL, target) {
		sheet.Err = fmt.Errorf("%w: %s", ErrCrossOrigin, sheet.Href)
		l.log.Debugf("skipping stylesheet %s: cross-origin", sheet.Href)
		return
	}

	var data []byte
	if target.Scheme == "file" {
		data, err = os.ReadFile(target.Path)
	} else {
		data, err = l.get(ctx, target.String())
	}
	if err != nil {
		sheet.Err = err
		l.log.Warnf("stylesheet %s unavailable: %v", sheet.Href, err)
		return
	}

	sheet.Text = string(data)
	sheet.Accessible = true
	sheet.Err = nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if isHTTP(source) {
		return l.get(ctx, source)
	}
	return os.ReadFile(source)
}

func (l *Loader) get(ctx context.Context, target string) ([]byte, error) {
	resp, err := l.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching %s: status %d", target, resp.StatusCode())
	}
	return resp.Body(), nil
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func sameOrigin(base, target *url.URL) bool {
	if base == nil {
		return false
	}
	if base.Scheme == "file" || target.Scheme == "file" {
		return base.Scheme == target.Scheme
	}
	return strings.EqualFold(base.Scheme, target.Scheme) && strings.EqualFold(base.Host, target.Host)
}
