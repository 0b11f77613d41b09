// Package hostapi is a small client for the Bitbucket Server (Stash) REST
// API, covering the pull request and user lookups the approval gate needs.
package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprite-ai/refgate/internal/apperr"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("not found")

// Reviewer roles and statuses as reported by the API.
const (
	RoleReviewer = "REVIEWER"
	RoleAuthor   = "AUTHOR"
)

// User is a Bitbucket user.
type User struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

// Participant is a user taking part in a pull request.
type Participant struct {
	User     User   `json:"user"`
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
	Status   string `json:"status"`
}

// PullRequest is the subset of a pull request refgate reads.
type PullRequest struct {
	ID        int           `json:"id"`
	Title     string        `json:"title"`
	State     string        `json:"state"`
	Reviewers []Participant `json:"reviewers"`
}

// ApprovedReviewers returns the email addresses of reviewers who approved.
func (pr *PullRequest) ApprovedReviewers() []string {
	var emails []string
	for _, r := range pr.Reviewers {
		if r.Role != RoleReviewer || !r.Approved {
			continue
		}
		emails = append(emails, r.User.EmailAddress)
	}
	return emails
}

// Client talks to one Bitbucket server with basic authentication.
type Client struct {
	BaseURL  string
	Username string
	Password string
	HTTP     *http.Client
	Log      zerolog.Logger
}

// New returns a client for baseURL.
func New(baseURL, username, password string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Log:      log,
	}
}

// PullRequest fetches a pull request of project/repo.
func (c *Client) PullRequest(ctx context.Context, project, repo, id string) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/rest/api/1.0/projects/%s/repos/%s/pull-requests/%s",
		url.PathEscape(project), url.PathEscape(repo), url.PathEscape(id))
	if err := c.get(ctx, path, &pr); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeExternalService, "failed to fetch pull request data")
	}
	return &pr, nil
}

// User fetches a user by slug. A missing user is ErrNotFound.
func (c *Client) User(ctx context.Context, slug string) (*User, error) {
	var u User
	if err := c.get(ctx, "/rest/api/1.0/users/"+url.PathEscape(slug), &u); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeExternalService, "failed to fetch user %s data", slug)
	}
	return &u, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Username, c.Password)
	req.Header.Set("Accept", "application/json")

	c.Log.Debug().Str("url", req.URL.String()).Msg("host api request")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
