// Package services – ThreadExtractor
//
// This file implements ThreadExtractor, which turns a post URL into a
// normalized ThreadSnapshot using exactly one content API lookup per
// successful extraction. The root post is fetched with expansions for its
// author and every referenced post and author, so no follow-up calls are
// needed.
//
// Every attempt goes through the shared quota.State first (monthly ceiling,
// window budget, minimum spacing) and the lookup is retried by a
// retry.Policy: 429 waits for retry-after, transport errors and 5xx back off
// exponentially, everything else fails immediately.
//
// Observability: Extract opens a span carrying the thread id and attempt
// count; each attempt is counted in xapi_requests_total by outcome.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/x-consensus-backend/internal/domain"
	"github.com/tbourn/x-consensus-backend/internal/quota"
	"github.com/tbourn/x-consensus-backend/internal/retry"
)

// threadURLRE matches post URLs on either host. The match is unanchored so
// tracking suffixes such as "?s=20" are tolerated.
var threadURLRE = regexp.MustCompile(`https?://(twitter\.com|x\.com)/\w+/status/(\d+)`)

// Lookup parameters requesting the author and all referenced posts and
// their authors in the same call.
const (
	lookupExpansions  = "referenced_tweets.id,referenced_tweets.id.author_id,author_id"
	lookupTweetFields = "referenced_tweets,conversation_id,created_at,public_metrics,context_annotations"
	lookupUserFields  = "name,username,verified,public_metrics,profile_image_url"
)

// maxLookupBody caps how much of an upstream response is read.
const maxLookupBody = 4 << 20

// ParseThreadID returns the numeric post id embedded in rawURL, or
// ErrInvalidURL.
func ParseThreadID(rawURL string) (string, error) {
	m := threadURLRE.FindStringSubmatch(rawURL)
	if m == nil {
		return "", ErrInvalidURL
	}
	return m[2], nil
}

// ExtractorConfig holds the upstream settings of a ThreadExtractor.
type ExtractorConfig struct {
	BaseURL           string
	BearerToken       string
	Timeout           time.Duration // per attempt
	MaxAttempts       int
	BackoffBase       time.Duration
	DefaultRetryAfter time.Duration // used when a 429 has no usable retry-after
}

// ThreadExtractor fetches threads from the content API.
type ThreadExtractor struct {
	Config     ExtractorConfig
	HTTPClient *http.Client
	Quota      *quota.State

	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep retry.Sleeper
}

// NewThreadExtractor returns an extractor sharing q with any other user of
// the same quota. Zero config values get the documented defaults.
func NewThreadExtractor(cfg ExtractorConfig, q *quota.State) *ThreadExtractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twitter.com/2"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 60 * time.Second
	}
	return &ThreadExtractor{
		Config:     cfg,
		HTTPClient: &http.Client{},
		Quota:      q,
	}
}

// UsageStats returns the current quota counters.
func (e *ThreadExtractor) UsageStats() quota.Stats {
	return e.Quota.Stats()
}

// Extract parses the thread id from rawURL, performs the lookup and builds
// the snapshot. Errors match one of ErrInvalidURL, ErrQuotaExceeded,
// ErrRateLimited, ErrUnauthorized, ErrNotFound or ErrUpstreamUnavailable.
func (e *ThreadExtractor) Extract(ctx context.Context, rawURL string) (*domain.ThreadSnapshot, error) {
	tr := otel.Tracer("services/ThreadExtractor")
	ctx, span := tr.Start(ctx, "Extract",
		trace.WithAttributes(attribute.String("thread.url", rawURL)),
	)
	defer span.End()

	id, err := ParseThreadID(rawURL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("thread.id", id))
	log := zerolog.Ctx(ctx).With().Str("thread_id", id).Logger()

	var body *lookupResponse
	policy := retry.Policy{
		MaxAttempts: e.Config.MaxAttempts,
		Backoff:     retry.Exponential(e.Config.BackoffBase),
		Retryable:   isRetryable,
		Sleep:       e.Sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", e.Config.MaxAttempts).
				Dur("retry_in", delay).
				Msg("content api attempt failed")
		},
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		b, err := e.lookup(ctx, id)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	span.SetAttributes(attribute.Int("xapi.attempts", attempts))
	if err != nil {
		err = finalError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Int("attempts", attempts).Msg("thread extraction failed")
		return nil, err
	}

	snap := buildSnapshot(id, body)
	span.SetAttributes(
		attribute.Int("thread.posts", len(snap.Posts)),
		attribute.Int("thread.authors", len(snap.Authors)),
	)
	log.Info().
		Int("attempts", attempts).
		Int("posts", len(snap.Posts)).
		Int("quote_posts", len(snap.QuotePosts)).
		Int("monthly_usage", e.Quota.Stats().MonthlyUsage).
		Msg("thread extracted")
	return snap, nil
}

// transientError marks a failure worth retrying with backoff.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transientError
	return errors.Is(err, ErrRateLimited) || errors.As(err, &te)
}

// finalError maps the last attempt's error to the public taxonomy.
func finalError(err error) error {
	var te *transientError
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited
	case errors.As(err, &te):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, te.err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return err
}

// lookup performs one throttled attempt.
func (e *ThreadExtractor) lookup(ctx context.Context, id string) (*lookupResponse, error) {
	res, err := e.Quota.Acquire(ctx)
	if err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			return nil, ErrQuotaExceeded
		}
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, e.Config.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("expansions", lookupExpansions)
	q.Set("tweet.fields", lookupTweetFields)
	q.Set("user.fields", lookupUserFields)
	endpoint := e.Config.BaseURL + "/tweets/" + url.PathEscape(id) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, endpoint, nil)
	if err != nil {
		res.Release(nil)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.Config.BearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		res.Release(nil)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		xapiRequests.WithLabelValues(outcomeTransport).Inc()
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBody))
	if err != nil {
		res.Release(resp.Header)
		xapiRequests.WithLabelValues(outcomeTransport).Inc()
		return nil, &transientError{err: fmt.Errorf("read body: %w", err)}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		res.Release(resp.Header)
		xapiRequests.WithLabelValues(outcomeRateLimited).Inc()
		wait := retryAfter(resp.Header, time.Now(), e.Config.DefaultRetryAfter)
		return nil, retry.After(ErrRateLimited, wait)
	case code >= 500:
		res.Release(resp.Header)
		xapiRequests.WithLabelValues(outcomeServerError).Inc()
		return nil, &transientError{err: fmt.Errorf("status %d", code)}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		res.Release(resp.Header)
		xapiRequests.WithLabelValues(outcomeClientError).Inc()
		return nil, ErrUnauthorized
	case code == http.StatusNotFound:
		res.Release(resp.Header)
		xapiRequests.WithLabelValues(outcomeClientError).Inc()
		return nil, ErrNotFound
	case code < 200 || code > 299:
		res.Release(resp.Header)
		xapiRequests.WithLabelValues(outcomeClientError).Inc()
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, code)
	}

	res.Commit(resp.Header)
	xapiRequests.WithLabelValues(outcomeOK).Inc()
	xapiMonthlyUsage.Set(float64(e.Quota.Stats().MonthlyUsage))

	var body lookupResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decode lookup: %w", ErrUpstreamUnavailable, err)
	}
	if body.Data == nil {
		if body.notFound() {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: lookup returned no data", ErrUpstreamUnavailable)
	}
	return &body, nil
}

// maxRetryAfter bounds a server-requested wait; longer or garbled values
// fall back to the default delay.
const maxRetryAfter = time.Hour

// retryAfter reads retry-after as seconds or an HTTP date; def otherwise.
func retryAfter(h http.Header, now time.Time, def time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("retry-after"))
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if !(secs >= 0 && secs <= maxRetryAfter.Seconds()) {
			return def
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		switch {
		case d > maxRetryAfter:
			return def
		case d > 0:
			return d
		}
		return 0
	}
	return def
}

// ----------------------------------------------------------------------------
// Wire format

type lookupPost struct {
	ID                 string             `json:"id"`
	Text               string             `json:"text"`
	AuthorID           string             `json:"author_id"`
	CreatedAt          string             `json:"created_at"`
	PublicMetrics      map[string]int     `json:"public_metrics"`
	ContextAnnotations []map[string]any   `json:"context_annotations"`
	ReferencedTweets   []domain.Reference `json:"referenced_tweets"`
	ConversationID     string             `json:"conversation_id"`
}

type lookupProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type lookupResponse struct {
	Data     *lookupPost `json:"data"`
	Includes struct {
		Users  []domain.Author `json:"users"`
		Tweets []lookupPost    `json:"tweets"`
	} `json:"includes"`
	Errors []lookupProblem `json:"errors"`
}

func (r *lookupResponse) notFound() bool {
	for _, p := range r.Errors {
		if p.Title == "Not Found Error" || strings.HasSuffix(p.Type, "/resource-not-found") {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------------
// Snapshot assembly

func buildSnapshot(threadID string, body *lookupResponse) *domain.ThreadSnapshot {
	authors := make(map[string]domain.Author, len(body.Includes.Users))
	for _, u := range body.Includes.Users {
		if u.ID != "" {
			authors[u.ID] = u
		}
	}
	toPost := func(lp lookupPost) domain.Post {
		p := domain.Post{
			ID:                 lp.ID,
			Text:               lp.Text,
			AuthorID:           lp.AuthorID,
			AuthorUsername:     domain.UnknownUsername,
			CreatedAt:          lp.CreatedAt,
			PublicMetrics:      lp.PublicMetrics,
			ContextAnnotations: lp.ContextAnnotations,
			References:         lp.ReferencedTweets,
			ConversationID:     lp.ConversationID,
		}
		if a, ok := authors[lp.AuthorID]; ok && a.Username != "" {
			p.AuthorUsername = a.Username
			p.AuthorName = a.Name
		}
		return p
	}

	root := toPost(*body.Data)
	posts := []domain.Post{root}
	seen := map[string]struct{}{root.ID: {}}
	referenced := make(map[string]domain.Post, len(body.Includes.Tweets))
	for _, lp := range body.Includes.Tweets {
		p := toPost(lp)
		referenced[p.ID] = p
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		posts = append(posts, p)
	}

	snap := &domain.ThreadSnapshot{
		ThreadID:        threadID,
		Posts:           posts,
		MainPost:        root,
		ReferencedCount: len(referenced),
		Authors:         authors,
		ReferencedPosts: referenced,
	}
	snap.ReplyChain, snap.QuotePosts, snap.Replies, snap.Other = partition(posts, root.AuthorID)
	return snap
}

// partition splits posts into the root author's own posts, quote posts,
// replies and everything else. Authorship wins over references, and a
// quote wins over a reply.
func partition(posts []domain.Post, rootAuthor string) (own, quotes, replies, other []domain.Post) {
	own, quotes = []domain.Post{}, []domain.Post{}
	for _, p := range posts {
		switch {
		case p.AuthorID == rootAuthor:
			own = append(own, p)
		case p.HasReference(domain.RefQuoted):
			quotes = append(quotes, p)
		case p.HasReference(domain.RefRepliedTo):
			replies = append(replies, p)
		default:
			other = append(other, p)
		}
	}
	return own, quotes, replies, other
}
