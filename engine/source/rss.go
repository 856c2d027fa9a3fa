package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/examfit/corpus/engine/domain"
)

// RSSConfig configures an RSS source.
type RSSConfig struct {
	URLs          []string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	MaxAge        time.Duration
	MaxItems      int
	MaxContent    int
	UserAgent     string
	FailThreshold int
	Cooldown      time.Duration
}

// DefaultRSSConfig holds the values used for unset fields.
var DefaultRSSConfig = RSSConfig{
	Timeout:       30 * time.Second,
	RatePerSecond: 2,
	Burst:         2,
	MaxAge:        7 * 24 * time.Hour,
	MaxItems:      50,
	MaxContent:    1000,
	UserAgent:     "corpusctl/1.0",
	FailThreshold: 3,
	Cooldown:      5 * time.Minute,
}

// RSS turns news feeds into current-affairs records.
type RSS struct {
	name     string
	cfg      RSSConfig
	parser   *gofeed.Parser
	limiter  *rate.Limiter
	policy   *bluemonday.Policy
	breakers *breakers
	logger   *slog.Logger
	now      func() time.Time
}

// NewRSS creates an RSS source reading cfg.URLs.
func NewRSS(name string, cfg RSSConfig, logger *slog.Logger) *RSS {
	d := DefaultRSSConfig
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = d.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = d.MaxAge
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = d.MaxItems
	}
	if cfg.MaxContent <= 0 {
		cfg.MaxContent = d.MaxContent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &RSS{
		name:     name,
		cfg:      cfg,
		parser:   parser,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		policy:   bluemonday.StrictPolicy(),
		breakers: &breakers{failThreshold: cfg.FailThreshold, cooldown: cfg.Cooldown},
		logger:   logger,
		now:      time.Now,
	}
}

func (s *RSS) Name() string { return s.name }

// Fetch reads every feed. A feed that fails is logged and skipped; the
// fetch fails only when no feed could be read.
func (s *RSS) Fetch(ctx context.Context) (Payload, error) {
	var (
		out  []domain.Record
		errs []error
	)
	now := s.now()
	for _, url := range s.cfg.URLs {
		if err := s.limiter.Wait(ctx); err != nil {
			return Payload{}, err
		}
		var feed *gofeed.Feed
		err := s.breakers.get(url).call(ctx, func(ctx context.Context) error {
			var err error
			feed, err = s.parser.ParseURLWithContext(url, ctx)
			return err
		})
		if err != nil {
			s.logger.Warn("feed failed", "source", s.name, "url", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		out = append(out, s.records(feed, now)...)
	}
	if len(errs) > 0 && len(errs) == len(s.cfg.URLs) {
		return Payload{}, errors.Join(errs...)
	}
	return Payload{Records: out}, nil
}

func (s *RSS) records(feed *gofeed.Feed, now time.Time) []domain.Record {
	oldest := now.Add(-s.cfg.MaxAge)
	var out []domain.Record
	for _, item := range feed.Items {
		if len(out) >= s.cfg.MaxItems {
			break
		}
		title := s.clean(item.Title)
		if title == "" {
			continue
		}
		pub := now
		if item.PublishedParsed != nil {
			pub = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			pub = *item.UpdatedParsed
		}
		if pub.Before(oldest) {
			continue
		}
		body := item.Description
		if body == "" {
			body = item.Content
		}
		out = append(out, complete(domain.Record{
			Title:         title,
			Content:       truncate(s.clean(body), s.cfg.MaxContent),
			Source:        s.name,
			SourceURL:     item.Link,
			DatePublished: domain.Timestamp{Time: pub.UTC()},
		}, s.name, now))
	}
	return out
}

// clean strips markup and collapses whitespace.
func (s *RSS) clean(v string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s.policy.Sanitize(v))), " ")
}

func truncate(v string, n int) string {
	runes := []rune(v)
	if len(runes) <= n {
		return v
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
