// Package github provides the rate-limited REST client used to enrich events
// with repository context. All instances of the service share one API budget
// through Redis: a shared rate-limit record, a distributed semaphore capping
// concurrent calls, and a circuit-breaker flag that pauses enrichment when
// the remaining budget runs low. A local breaker guards each process against
// hammering an unhealthy upstream.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
)

// DefaultBaseURL is the GitHub REST v3 endpoint.
const DefaultBaseURL = "https://api.github.com"

// requestTimeout bounds each individual API call.
const requestTimeout = 5 * time.Second

// maxRetries bounds retry attempts for transient (5xx) failures.
const maxRetries = 3

// userAgent identifies the service to the GitHub API.
const userAgent = "octofang-anomaly-engine"

// Client errors.
var (
	ErrNotFound       = errors.New("github: not found")
	ErrRateLimited    = errors.New("github: rate limited")
	ErrBudgetExceeded = errors.New("github: shared rate budget exhausted")
	ErrStatus         = errors.New("github: unexpected status")
)

// RepoInfo is the subset of repository metadata the context scorer consumes.
type RepoInfo struct {
	FullName        string    `json:"full_name"`
	Description     string    `json:"description"`
	Language        string    `json:"language"`
	Topics          []string  `json:"topics"`
	Stars           int       `json:"stargazers_count"`
	Forks           int       `json:"forks_count"`
	OpenIssues      int       `json:"open_issues_count"`
	SizeKB          int       `json:"size"`
	DefaultBranch   string    `json:"default_branch"`
	Private         bool      `json:"private"`
	Archived        bool      `json:"archived"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	PushedAt        time.Time `json:"pushed_at"`
	HasSecurityInfo bool      `json:"-"`
	Owner           struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"owner"`
}

// PublicEvent is a minimal event record from the public events listing,
// used for temporal baseline estimation.
type PublicEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Actor     struct {
		Login string `json:"login"`
	} `json:"actor"`
}

// CommitFile is one changed file in a commit detail response.
type CommitFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch"`
}

// CommitDetail is the commit enrichment payload for content analysis.
type CommitDetail struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
	} `json:"commit"`
	Files []CommitFile `json:"files"`
}

// CommunityProfile is the community health response; only the presence of
// key files matters for security scoring.
type CommunityProfile struct {
	HealthPercentage int `json:"health_percentage"`
	Files            struct {
		Security      *struct{} `json:"security"`
		CodeOfConduct *struct{} `json:"code_of_conduct"`
		License       *struct{} `json:"license"`
	} `json:"files"`
}

// Contributor is one entry from the repo contributors listing.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// Client calls the GitHub REST API under the shared rate budget.
type Client struct {
	httpClient  *http.Client
	coordinator *Coordinator
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	baseURL     string
	token       string
}

// NewClient builds a client. coordinator may be nil in tests to bypass the
// shared budget; baseURL overrides DefaultBaseURL when non-empty.
func NewClient(token, baseURL string, coordinator *Coordinator) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "github-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		coordinator: coordinator,
		breaker:     breaker,
		baseURL:     baseURL,
		token:       token,
	}
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*RepoInfo, error) {
	var info RepoInfo

	err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s", owner, repo), &info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

// ListUserEvents fetches a user's recent public events.
func (c *Client) ListUserEvents(ctx context.Context, login string, perPage int) ([]PublicEvent, error) {
	var events []PublicEvent

	path := fmt.Sprintf("/users/%s/events/public?per_page=%d", login, perPage)

	err := c.getJSON(ctx, path, &events)
	if err != nil {
		return nil, err
	}

	return events, nil
}

// ListRepoEvents fetches a repository's recent events.
func (c *Client) ListRepoEvents(ctx context.Context, owner, repo string, perPage int) ([]PublicEvent, error) {
	var events []PublicEvent

	path := fmt.Sprintf("/repos/%s/%s/events?per_page=%d", owner, repo, perPage)

	err := c.getJSON(ctx, path, &events)
	if err != nil {
		return nil, err
	}

	return events, nil
}

// GetCommunityProfile fetches the community health metadata of a repository.
func (c *Client) GetCommunityProfile(ctx context.Context, owner, repo string) (*CommunityProfile, error) {
	var profile CommunityProfile

	err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/community/profile", owner, repo), &profile)
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

// ListContributors fetches the top contributors of a repository.
func (c *Client) ListContributors(ctx context.Context, owner, repo string, perPage int) ([]Contributor, error) {
	var contributors []Contributor

	path := fmt.Sprintf("/repos/%s/%s/contributors?per_page=%d", owner, repo, perPage)

	err := c.getJSON(ctx, path, &contributors)
	if err != nil {
		return nil, err
	}

	return contributors, nil
}

// GetCommit fetches commit details including per-file patches.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*CommitDetail, error) {
	var detail CommitDetail

	err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, sha), &detail)
	if err != nil {
		return nil, err
	}

	return &detail, nil
}

// getJSON performs a budgeted GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.coordinator != nil {
		slot, err := c.coordinator.Acquire(ctx)
		if err != nil {
			return err
		}
		defer c.coordinator.Release(ctx, slot)
	}

	resp, err := c.doWithRetry(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if c.coordinator != nil {
		c.coordinator.RecordRateHeaders(ctx, resp.Header)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %d on %s", ErrStatus, resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("github: read %s: %w", path, err)
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}

	return nil
}

// doWithRetry issues the request through the local breaker, retrying
// transient 5xx responses with jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, path string) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.do(ctx, path)
		})
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			_ = resp.Body.Close()

			return nil, fmt.Errorf("%w: %d on %s", ErrStatus, resp.StatusCode, path)
		}

		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxRetries))
	if err != nil {
		return nil, fmt.Errorf("github: get %s: %w", path, err)
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("github: build request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: request %s: %w", path, err)
	}

	return resp, nil
}

// parseIntHeader reads a numeric header value, returning -1 when absent.
func parseIntHeader(h http.Header, name string) int64 {
	raw := h.Get(name)
	if raw == "" {
		return -1
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}

	return v
}
