// Package ivasms implements the upstream adapter for the ivasms.com portal.
// The portal has no API, so the client drives the same login form and
// received-SMS page a browser would, and scrapes the rendered HTML.
package ivasms

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/roasbeef/otpwatch/internal/fetch"
	"github.com/roasbeef/otpwatch/internal/record"
)

const (
	// DefaultBaseURL is the production portal endpoint.
	DefaultBaseURL = "https://www.ivasms.com"

	// DefaultTimeout bounds every request the client makes. The portal is
	// slow under load, so this is generous relative to a typical API.
	DefaultTimeout = 30 * time.Second

	loginPath = "/login"
	smsPath   = "/portal/sms/received"
)

var (
	// csrfTokenRe extracts the hidden Laravel CSRF token from the login
	// form.
	csrfTokenRe = regexp.MustCompile(`name="_token"\s+value="([^"]+)"`)

	// smsRowRe matches one received-SMS card in the portal markup. The
	// groups are sender, timestamp, and the raw message cell which may
	// itself contain markup.
	smsRowRe = regexp.MustCompile(
		`(?s)<div class="card-header[^"]*">\s*([^<]+?)\s*</div>` +
			`.*?<p class="time[^"]*">\s*([^<]+?)\s*</p>` +
			`.*?<p class="mb-0[^"]*">(.*?)</p>`,
	)

	// innerTagRe strips residual markup from a message cell.
	innerTagRe = regexp.MustCompile(`<[^>]*>`)
)

// Config holds the portal endpoint and the credentials for it.
type Config struct {
	// BaseURL is the portal root. Defaults to DefaultBaseURL when empty.
	BaseURL string

	// Email is the portal account email.
	Email string

	// Password is the portal account password.
	Password string

	// Timeout bounds each HTTP request. Defaults to DefaultTimeout when
	// zero.
	Timeout time.Duration
}

// Client is a fetch.Adapter that scrapes the ivasms portal.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

var _ fetch.Adapter = (*Client)(nil)

// NewClient creates a portal client with a fresh cookie jar. The jar holds
// the session cookie, so one Client corresponds to one upstream session.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("ivasms: email and password required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("ivasms: cookie jar: %w", err)
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		log: log,
	}, nil
}

// Login walks the portal login flow: fetch the form for its CSRF token, then
// post the credentials. The portal answers a bad login by re-rendering the
// form, so success is detected by landing anywhere other than the login page.
func (c *Client) Login(ctx context.Context) error {
	formHTML, _, err := c.get(ctx, loginPath)
	if err != nil {
		return fmt.Errorf("%w: %w", fetch.ErrAuthUnreachable, err)
	}

	match := csrfTokenRe.FindStringSubmatch(formHTML)
	if match == nil {
		// The portal occasionally serves a challenge page without the
		// form. That clears on its own.
		return fmt.Errorf("%w: no csrf token in login page",
			fetch.ErrTransientAuthFailure)
	}

	form := url.Values{
		"_token":   {match[1]},
		"email":    {c.cfg.Email},
		"password": {c.cfg.Password},
		"remember": {"on"},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.BaseURL+loginPath,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", fetch.ErrAuthUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", fetch.ErrAuthUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %w", fetch.ErrAuthUnreachable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests {

		return fmt.Errorf("%w: status %d", fetch.ErrTransientAuthFailure,
			resp.StatusCode)
	}

	// After following redirects, a failed login lands back on the form.
	if strings.Contains(resp.Request.URL.Path, loginPath) {
		return c.classifyLoginFailure(resp.Request.URL, body)
	}

	c.log.InfoContext(ctx, "Portal login succeeded",
		"landed_on", resp.Request.URL.Path,
	)

	return nil
}

// classifyLoginFailure decides whether a bounced login was a credential
// rejection or something retriable, by reading the human-visible text of the
// re-rendered form.
func (c *Client) classifyLoginFailure(pageURL *url.URL, body []byte) error {
	haystack := string(body)

	// Prefer the human-visible text when the page is parseable, so the
	// phrase match isn't fooled by script or attribute content.
	article, err := readability.FromReader(
		strings.NewReader(haystack), pageURL,
	)
	if err == nil && article.TextContent != "" {
		haystack = article.TextContent
	}

	text := strings.ToLower(haystack)
	if strings.Contains(text, "credentials do not match") ||
		strings.Contains(text, "invalid credentials") {

		return fetch.ErrCredentialsRejected
	}

	return fmt.Errorf("%w: login bounced without a credential error",
		fetch.ErrTransientAuthFailure)
}

// FetchRecords scrapes the received-SMS page into raw records, newest
// upstream rendering order preserved. A redirect back to the login form
// means the session cookie is no longer honored.
func (c *Client) FetchRecords(ctx context.Context) ([]record.RawRecord, error) {
	pageHTML, finalURL, err := c.get(ctx, smsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fetch.ErrUnreachable, err)
	}

	if strings.Contains(finalURL.Path, loginPath) {
		return nil, fetch.ErrSessionExpired
	}

	matches := smsRowRe.FindAllStringSubmatch(pageHTML, -1)

	records := make([]record.RawRecord, 0, len(matches))
	for _, m := range matches {
		records = append(records, record.RawRecord{
			Sender:     html.UnescapeString(strings.TrimSpace(m[1])),
			ReceivedAt: html.UnescapeString(strings.TrimSpace(m[2])),
			Message:    cleanMessageCell(m[3]),
		})
	}

	c.log.DebugContext(ctx, "Scraped received-SMS page",
		"row_count", len(records),
	)

	return records, nil
}

// cleanMessageCell strips markup and entity-encodes from a message cell. The
// result is the verbatim message text as a user would read it.
func cleanMessageCell(cell string) string {
	text := innerTagRe.ReplaceAllString(cell, " ")
	text = html.UnescapeString(text)

	return strings.Join(strings.Fields(text), " ")
}

// get performs a GET against the portal and returns the body plus the URL
// the client finally landed on after redirects.
func (c *Client) get(ctx context.Context, path string) (string, *url.URL, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.cfg.BaseURL+path, nil,
	)
	if err != nil {
		return "", nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status %d for %s",
			resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", nil, err
	}

	return string(body), resp.Request.URL, nil
}
