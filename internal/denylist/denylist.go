// Package denylist loads the list of flagged token references and matches
// var(--…) values against it.
package denylist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/logger"
)

// ErrLoad is wrapped by every failure to fetch or decode a deny-list.
var ErrLoad = errors.New("deny-list unavailable")

var reference = regexp.MustCompile(`(?i)^var\(\s*(--[^\s,()]+)`)

// Canonical reduces a token reference to its `var(--name)` form, dropping any
// fallback. It reports false for values that are not token references.
func Canonical(value string) (string, bool) {
	m := reference.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return "", false
	}
	return "var(" + m[1] + ")", true
}

// List is an immutable set of flagged token references.
type List struct {
	entries []string
	set     map[string]struct{}
}

// New builds a List. Entries are matched verbatim and by canonical form.
func New(entries []string) *List {
	l := &List{set: make(map[string]struct{}, len(entries)*2)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		l.entries = append(l.entries, e)
		l.set[e] = struct{}{}
		if c, ok := Canonical(e); ok {
			l.set[c] = struct{}{}
		}
	}
	return l
}

// Len returns the number of entries.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Contains reports whether value, literally or in canonical form, is flagged.
func (l *List) Contains(value string) bool {
	if l == nil || len(l.set) == 0 {
		return false
	}
	value = strings.TrimSpace(value)
	if _, ok := l.set[value]; ok {
		return true
	}
	if c, ok := Canonical(value); ok {
		_, ok = l.set[c]
		return ok
	}
	return false
}

// Decode parses a deny-list document: either a bare JSON array of strings or
// an object with a "flaggedVariables" array.
func Decode(data []byte) ([]string, error) {
	var entries []string
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		FlaggedVariables []string `json:"flaggedVariables"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding deny-list: %w", err)
	}
	if wrapped.FlaggedVariables == nil {
		return nil, errors.New("decoding deny-list: no flaggedVariables array")
	}
	return wrapped.FlaggedVariables, nil
}

// Source fetches the deny-list from a URL or file. The list is read fresh on
// every Fetch.
type Source struct {
	location string
	hc       *http.Client
	client   *resty.Client
	log      *zap.SugaredLogger
}

// Option customizes a Source.
type Option func(*Source)

// WithHTTPClient makes the source issue requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Source) {
		s.hc = hc
	}
}

// NewSource creates a Source for location (an http(s) URL or file path).
// An empty location yields an always-empty list.
func NewSource(location string, cfg *config.Config, opts ...Option) *Source {
	s := &Source{
		location: location,
		hc:       &http.Client{},
		log:      logger.For(logger.ComponentDenyList),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = resty.NewWithClient(s.hc).SetTimeout(cfg.Fetch.Timeout)
	if cfg.Fetch.UserAgent != "" {
		s.client.SetHeader("User-Agent", cfg.Fetch.UserAgent)
	}
	return s
}

// Load reads and decodes the list. Errors wrap ErrLoad.
func (s *Source) Load(ctx context.Context) (*List, error) {
	if s.location == "" {
		return New(nil), nil
	}
	data, err := s.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, s.location, err)
	}
	return New(entries), nil
}

// Fetch is Load with the failure policy of a scan: any error is logged and an
// empty list is returned so hardcoded-value detection still runs.
func (s *Source) Fetch(ctx context.Context) *List {
	l, err := s.Load(ctx)
	if err != nil {
		s.log.Warnf("continuing with an empty deny-list: %v", err)
		return New(nil)
	}
	s.log.Debugf("loaded %d flagged variables from %s", l.Len(), s.location)
	return l
}

func (s *Source) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.location, "http://") && !strings.HasPrefix(s.location, "https://") {
		data, err := os.ReadFile(s.location)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.location, err)
		}
		return data, nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(s.location)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.location, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching %s: status %d", s.location, resp.StatusCode())
	}
	return resp.Body(), nil
}
