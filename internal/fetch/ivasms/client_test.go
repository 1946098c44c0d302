package ivasms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roasbeef/otpwatch/internal/fetch"
	"github.com/stretchr/testify/require"
)

const loginFormHTML = `<!DOCTYPE html>
<html><body>
<form method="POST" action="/login">
<input type="hidden" name="_token" value="tok-12345">
<input type="email" name="email">
<input type="password" name="password">
</form>
</body></html>`

const smsPageHTML = `<!DOCTYPE html>
<html><body>
<div class="card">
  <div class="card-header bg-light">ACME</div>
  <div class="card-body">
    <p class="time text-muted">2024-01-02 10:11</p>
    <p class="mb-0">Your <b>ACME</b> code is 123456</p>
  </div>
</div>
<div class="card">
  <div class="card-header bg-light">+15550001111</div>
  <div class="card-body">
    <p class="time text-muted">2024-01-02 10:15</p>
    <p class="mb-0">G-987654 is your verification code &amp; expires soon</p>
  </div>
</div>
</body></html>`

// newPortal spins up a fake portal. The handler mutates behavior through the
// returned flags struct.
type portalFlags struct {
	rejectLogin    bool
	expireSessions bool
}

func newPortal(t *testing.T) (*httptest.Server, *portalFlags) {
	t.Helper()

	flags := &portalFlags{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginFormHTML)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "tok-12345", r.FormValue("_token"))

		if flags.rejectLogin {
			fmt.Fprint(w, `<!DOCTYPE html><html><body><main>
<h1>Sign in</h1>
<p>These credentials do not match our records. Please check the
email address and password and try again.</p>
</main></body></html>`)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1"})
		http.Redirect(w, r, "/portal", http.StatusFound)
	})
	mux.HandleFunc("GET /portal", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>dashboard</body></html>")
	})
	mux.HandleFunc("GET /portal/sms/received", func(w http.ResponseWriter,
		r *http.Request) {

		if flags.expireSessions {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		fmt.Fprint(w, smsPageHTML)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, flags
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		BaseURL:  baseURL,
		Email:    "user@example.com",
		Password: "hunter2",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return client
}

// TestLoginHappyPath asserts the CSRF token round trip and that a redirect
// off the login page counts as success.
func TestLoginHappyPath(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(t)
	client := newTestClient(t, srv.URL)

	require.NoError(t, client.Login(context.Background()))
}

// TestLoginCredentialsRejected asserts that a re-rendered form carrying the
// portal's credential error maps to the fatal sentinel.
func TestLoginCredentialsRejected(t *testing.T) {
	t.Parallel()

	srv, flags := newPortal(t)
	flags.rejectLogin = true
	client := newTestClient(t, srv.URL)

	err := client.Login(context.Background())
	require.ErrorIs(t, err, fetch.ErrCredentialsRejected)
}

// TestLoginUnreachable asserts that a dead endpoint maps to the unreachable
// sentinel rather than a raw transport error.
func TestLoginUnreachable(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(t)
	srv.Close()
	client := newTestClient(t, srv.URL)

	err := client.Login(context.Background())
	require.ErrorIs(t, err, fetch.ErrAuthUnreachable)
}

// TestFetchRecords asserts the page scrape: sender, timestamp, and message
// with inner markup and entities flattened to plain text.
func TestFetchRecords(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(t)
	client := newTestClient(t, srv.URL)

	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	records, err := client.FetchRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "ACME", records[0].Sender)
	require.Equal(t, "2024-01-02 10:11", records[0].ReceivedAt)
	require.Equal(t, "Your ACME code is 123456", records[0].Message)

	require.Equal(t, "+15550001111", records[1].Sender)
	require.Equal(
		t, "G-987654 is your verification code & expires soon",
		records[1].Message,
	)
}

// TestFetchRecordsSessionExpired asserts that a bounce back to the login
// form surfaces as the session-expired sentinel.
func TestFetchRecordsSessionExpired(t *testing.T) {
	t.Parallel()

	srv, flags := newPortal(t)
	client := newTestClient(t, srv.URL)

	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	flags.expireSessions = true

	_, err := client.FetchRecords(ctx)
	require.ErrorIs(t, err, fetch.ErrSessionExpired)
}
