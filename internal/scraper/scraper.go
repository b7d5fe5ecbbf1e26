// Package scraper reads the public tweet, follower and following counters
// from profile pages. It is the Worker used by the dispatcher.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/scrapejobs/internal/dispatch"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
	"golang.org/x/time/rate"
)

// Sentinel errors for profile fetch failures.
var (
	ErrFetchFailed      = errors.New("profile fetch failed")
	ErrFetchTimeout     = errors.New("profile fetch timeout")
	ErrAllFetchesFailed = errors.New("every profile fetch failed")
)

const userAgent = "scrapejobs/1.0 (+https://github.com/kiranshivaraju/scrapejobs)"

// Config controls where and how fast profiles are fetched.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Scraper fetches profile pages over HTTP.
type Scraper struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Scraper. A non-positive RequestsPerSecond disables limiting.
func New(cfg Config, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Scraper{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "scraper"),
	}
}

// ProfileURL returns the page address for a normalized handle.
func (s *Scraper) ProfileURL(handle string) string {
	return s.baseURL + "/" + url.PathEscape(handle)
}

// Run fetches every account in order. A failed fetch yields a zero record
// for that account; the run fails only if ctx ends or every fetch failed.
func (s *Scraper) Run(ctx context.Context, accounts []string, progress dispatch.ProgressFunc) (models.Payload, error) {
	total := len(accounts)
	payload := make(models.Payload, 0, total)
	failures := 0

	for i, handle := range accounts {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		rec, err := s.FetchProfile(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("error occurred with the url", "url", rec.Account, "error", err)
			failures++
		}
		payload = append(payload, rec)

		if progress != nil {
			progress(i+1, total)
		}
	}

	if total > 0 && failures == total {
		return nil, fmt.Errorf("%w: %d accounts", ErrAllFetchesFailed, total)
	}
	return payload, nil
}

// FetchProfile loads one profile page and reads its counters. On error the
// returned record still carries the account URL with zero counters.
func (s *Scraper) FetchProfile(ctx context.Context, handle string) (models.Record, error) {
	rec := models.Record{Account: s.ProfileURL(handle)}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.Account, nil)
	if err != nil {
		return rec, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return rec, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rec, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	counts, err := ParseCounters(resp.Body)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	rec.Tweets = counts.Tweets
	rec.Followers = counts.Followers
	rec.Following = counts.Following
	return rec, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrFetchFailed, err)
}

// Compile-time check that Scraper implements dispatch.Worker.
var _ dispatch.Worker = (*Scraper)(nil)
