//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/potluck-hub/potluck-hub/internal/api/http"
	"github.com/potluck-hub/potluck-hub/internal/application/auth"
	"github.com/potluck-hub/potluck-hub/internal/application/csrf"
	"github.com/potluck-hub/potluck-hub/internal/application/oauth"
	"github.com/potluck-hub/potluck-hub/internal/application/oauth/oauthtest"
	"github.com/potluck-hub/potluck-hub/internal/application/session"
	"github.com/potluck-hub/potluck-hub/internal/application/user"
	domainUser "github.com/potluck-hub/potluck-hub/internal/domain/user"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/postgres"
)

const sessionCookieName = "potluck_session"

type testServer struct {
	*httptest.Server
	idp  *oauthtest.Server
	pool *pgxpool.Pool
}

func TestLoginAgainstPostgres(t *testing.T) {
	server := newTestServer(t)
	server.idp.AddCode("abc123", oauthtest.Identity{Subject: "g-1", Name: "A", Email: "a@x.com"})

	token := login(t, server, "abc123")

	var me struct {
		User struct {
			Email      string `json:"email"`
			HostStatus string `json:"hostStatus"`
		} `json:"user"`
		Session struct {
			Provider string `json:"provider"`
		} `json:"session"`
	}
	getJSON(t, server.URL+"/auth/me", token, http.StatusOK, &me)
	if me.User.Email != "a@x.com" || me.User.HostStatus != "approved" || me.Session.Provider != "google" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	var stored int
	if err := server.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM sessions WHERE token_hash = $1`, token).Scan(&stored); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if stored != 0 {
		t.Fatalf("raw token must not be stored")
	}

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d", resp.StatusCode)
	}

	getJSON(t, server.URL+"/auth/me", token, http.StatusUnauthorized, nil)
}

func TestSessionCapAgainstPostgres(t *testing.T) {
	server := newTestServer(t)
	var tokens []string
	for i := 0; i < 6; i++ {
		code := "code-" + string(rune('a'+i))
		server.idp.AddCode(code, oauthtest.Identity{Email: "cap@x.com"})
		tokens = append(tokens, login(t, server, code))
	}

	var list struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	getJSON(t, server.URL+"/auth/sessions", tokens[5], http.StatusOK, &list)
	if len(list.Sessions) != 5 {
		t.Fatalf("expected 5 sessions, got %d", len(list.Sessions))
	}
	getJSON(t, server.URL+"/auth/me", tokens[0], http.StatusUnauthorized, nil)
}

// login walks the redirect flow without a cookie jar, since state cookies are Secure.
func login(t *testing.T, server *testServer, code string) string {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	start, err := client.Get(server.URL + "/auth/google/login")
	if err != nil {
		t.Fatalf("login start: %v", err)
	}
	start.Body.Close()
	if start.StatusCode != http.StatusFound {
		t.Fatalf("login start status %d", start.StatusCode)
	}
	loc, err := url.Parse(start.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}

	q := url.Values{"code": {code}, "state": {loc.Query().Get("state")}}
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/auth/google/callback?"+q.Encode(), nil)
	for _, c := range start.Cookies() {
		req.AddCookie(c)
	}
	cb, err := client.Do(req)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	cb.Body.Close()
	if cb.StatusCode != http.StatusFound {
		t.Fatalf("callback status %d", cb.StatusCode)
	}
	for _, c := range cb.Cookies() {
		if c.Name == sessionCookieName {
			return c.Value
		}
	}
	t.Fatalf("no session cookie set")
	return ""
}

func getJSON(t *testing.T, target, token string, wantStatus int, out interface{}) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, target, nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", target, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		t.Fatalf("reset db: %v", err)
	}

	idp := oauthtest.NewServer(t)
	google, err := oauth.NewProvider(ctx, idp.OIDCConfig("google"), &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	logger := zerolog.Nop()
	state := csrf.NewManager(csrf.Config{})
	authSvc := auth.NewService(
		oauth.NewRegistry(google),
		state,
		user.NewService(postgres.NewUserRepository(pool), domainUser.HostStatusApproved, logger),
		session.NewService(postgres.NewSessionRepository(pool), logger),
		auth.Config{SessionCookieName: sessionCookieName},
		logger,
	)
	apiServer := httpapi.NewServer(authSvc, state, httpapi.Options{HealthCheck: pool.Ping}, logger)
	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(server.Close)

	return &testServer{Server: server, idp: idp, pool: pool}
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			sessions,
			users
		RESTART IDENTITY CASCADE
	`)
	return err
}
