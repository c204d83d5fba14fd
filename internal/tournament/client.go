package tournament

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tgcesports/notifier/internal/config"
	"github.com/tgcesports/notifier/internal/metrics"
)

// Client talks to the tournament backend
type Client struct {
	cfg             config.UpstreamConfig
	defaultLanguage Language
	httpClient      *http.Client
	limiter         *rate.Limiter
	tokens          *TokenCache
	logger          *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a backend client with request pacing
func NewClient(cfg config.UpstreamConfig, defaultLanguage Language, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:             cfg,
		defaultLanguage: defaultLanguage,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		limiter:         rate.NewLimiter(limit, 1),
		tokens:          &TokenCache{},
		logger:          logger,
		now:             time.Now,
		sleep:           sleepContext,
	}
}

type envelope struct {
	Result json.RawMessage `json:"result"`
}

type page struct {
	Items      []person `json:"items"`
	TotalCount int      `json:"totalCount"`
}

// FetchTournaments returns every tournament known to the backend
func (c *Client) FetchTournaments(ctx context.Context) ([]Tournament, error) {
	var tournaments []Tournament
	if err := c.get(ctx, "tournaments", c.cfg.BaseURL+c.cfg.TournamentsPath, "", &tournaments); err != nil {
		return nil, err
	}
	return tournaments, nil
}

// FetchParticipants returns the participants of one tournament
func (c *Client) FetchParticipants(ctx context.Context, tournamentID string) ([]Participant, error) {
	if tournamentID == "" {
		return nil, fmt.Errorf("%w: tournament id is required", ErrInvalidArgument)
	}

	u := c.cfg.BaseURL + c.cfg.ParticipantsPath + "?" + url.Values{"tournamentId": {tournamentID}}.Encode()

	var people []person
	if err := c.get(ctx, "participants", u, "", &people); err != nil {
		return nil, err
	}

	participants := make([]Participant, 0, len(people))
	for _, p := range people {
		participants = append(participants, p.participant(c.defaultLanguage))
	}
	return participants, nil
}

// FetchRegistrations returns every registration record
func (c *Client) FetchRegistrations(ctx context.Context) ([]Recipient, error) {
	return c.fetchPaged(ctx, "registrations", c.cfg.BaseURL+c.cfg.RegistrationsPath, false)
}

// FetchUsers returns the full user directory. It authenticates with a
// cached bearer credential.
func (c *Client) FetchUsers(ctx context.Context) ([]Recipient, error) {
	return c.fetchPaged(ctx, "users", c.cfg.UserBaseURL+c.cfg.UsersPath, true)
}

// fetchPaged walks SkipCount/MaxResultCount pages until a short page.
// A page that keeps failing is skipped; paging stops after
// MaxConsecutiveFailures skipped pages in a row.
func (c *Client) fetchPaged(ctx context.Context, endpoint, base string, authenticated bool) ([]Recipient, error) {
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	var (
		recipients          []Recipient
		consecutiveFailures int
		fetchedAny          bool
	)

	for skip := 0; ; skip += pageSize {
		params := url.Values{
			"SkipCount":      {strconv.Itoa(skip)},
			"MaxResultCount": {strconv.Itoa(pageSize)},
		}

		p, err := c.fetchPage(ctx, endpoint, base+"?"+params.Encode(), authenticated)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrAuthentication) {
				return nil, err
			}

			consecutiveFailures++
			c.logger.Warn("skipping page after repeated failures",
				"endpoint", endpoint,
				"skip", skip,
				"consecutive_failures", consecutiveFailures,
				"error", err,
			)
			if consecutiveFailures >= c.cfg.MaxConsecutiveFailures {
				if !fetchedAny {
					return nil, fmt.Errorf("%w: %s: %d consecutive page failures", ErrUpstreamUnavailable, endpoint, consecutiveFailures)
				}
				c.logger.Error("giving up on remaining pages", "endpoint", endpoint, "collected", len(recipients))
				return recipients, nil
			}
			continue
		}

		consecutiveFailures = 0
		fetchedAny = true
		for _, item := range p.Items {
			recipients = append(recipients, item.recipient(c.defaultLanguage))
		}

		if len(p.Items) < pageSize {
			break
		}
		if p.TotalCount > 0 && skip+pageSize >= p.TotalCount {
			break
		}
	}

	c.logger.Debug("fetched paged records", "endpoint", endpoint, "count", len(recipients))
	return recipients, nil
}

// fetchPage retries a single page with exponential backoff
func (c *Client) fetchPage(ctx context.Context, endpoint, u string, authenticated bool) (*page, error) {
	attempts := c.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		token := ""
		if authenticated {
			var err error
			token, err = c.token(ctx)
			if err != nil {
				return nil, err
			}
		}

		var p page
		err := c.get(ctx, endpoint, u, token, &p)
		if err == nil {
			return &p, nil
		}
		lastErr = err

		if authenticated && IsStatus(err, http.StatusUnauthorized) {
			// Rejected credential, fetch a new one on the next attempt
			c.tokens.Clear()
		}
		c.logger.Debug("page request failed", "endpoint", endpoint, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

type authRequest struct {
	UserNameOrEmailAddress string `json:"userNameOrEmailAddress"`
	Password               string `json:"password"`
}

type authResult struct {
	AccessToken     string `json:"accessToken"`
	ExpireInSeconds int    `json:"expireInSeconds"`
}

// token returns a valid bearer token, authenticating when needed
func (c *Client) token(ctx context.Context) (string, error) {
	if cred := c.tokens.Get(); !NeedsRefresh(c.now(), cred) {
		return cred.Token, nil
	}

	body := authRequest{UserNameOrEmailAddress: c.cfg.Username, Password: c.cfg.Password}
	var res authResult
	if err := c.do(ctx, "auth", http.MethodPost, c.cfg.UserBaseURL+c.cfg.AuthPath, "", body, &res); err != nil {
		c.tokens.Clear()
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if res.AccessToken == "" {
		c.tokens.Clear()
		return "", fmt.Errorf("%w: empty access token", ErrAuthentication)
	}

	cred := Credential{Token: res.AccessToken}
	if res.ExpireInSeconds > 0 {
		cred.ExpiresAt = c.now().Add(time.Duration(res.ExpireInSeconds) * time.Second)
	}
	c.tokens.Set(cred)

	c.logger.Debug("obtained upstream credential", "expires_at", cred.ExpiresAt)
	return cred.Token, nil
}

// get performs a GET and unwraps the result envelope into result
func (c *Client) get(ctx context.Context, endpoint, u, token string, result any) error {
	return c.do(ctx, endpoint, http.MethodGet, u, token, nil, result)
}

// do performs a rate-limited request and unwraps the result envelope
func (c *Client) do(ctx context.Context, endpoint, method, u, token string, body, result any) error {
	err := c.request(ctx, method, u, token, body, result)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.IncUpstreamRequest(endpoint, outcome)
	return err
}

func (c *Client) request(ctx context.Context, method, u, token string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrUpstreamUnavailable, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, &HTTPError{StatusCode: resp.StatusCode, Message: truncate(data, 200)})
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return fmt.Errorf("%w: response has no result", ErrUpstreamUnavailable)
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrUpstreamUnavailable, err)
	}

	return nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
