package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("code") != "the-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"access-1","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAuthorizeLoopback(t *testing.T) {
	ts := tokenServer(t)
	conf := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: ts.URL},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, err := authorizeLoopback(ctx, conf, func(consent string) error {
		u, err := url.Parse(consent)
		if err != nil {
			return err
		}
		if u.Query().Get("access_type") != "offline" {
			t.Errorf("consent url lacks offline access: %s", consent)
		}
		redirect := u.Query().Get("redirect_uri") + "?code=the-code&state=" + url.QueryEscape(u.Query().Get("state"))
		go func() {
			resp, err := http.Get(redirect)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if tok.AccessToken != "access-1" || tok.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestAuthorizeLoopbackRejectsWrongState(t *testing.T) {
	ts := tokenServer(t)
	conf := &oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: ts.URL}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := authorizeLoopback(ctx, conf, func(consent string) error {
		u, _ := url.Parse(consent)
		go func() {
			resp, err := http.Get(u.Query().Get("redirect_uri") + "?code=the-code&state=forged")
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	})
	if err == nil {
		t.Fatalf("expected state mismatch error")
	}
}

func TestAuthorizeLoopbackHonorsContext(t *testing.T) {
	conf := &oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: "http://127.0.0.1:1/token"}}
	ctx, cancel := context.WithCancel(context.Background())
	_, err := authorizeLoopback(ctx, conf, func(string) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	in := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := saveToken(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token mode = %v, want 0600", perm)
	}
	out, err := loadToken(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != "a" || out.RefreshToken != "r" || !out.Expiry.Equal(in.Expiry) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingTokenSourceSavesRefreshes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	old := &oauth2.Token{AccessToken: "old"}
	src := &persistingTokenSource{
		src:     staticSource{tok: &oauth2.Token{AccessToken: "new", RefreshToken: "r"}},
		current: old,
		path:    path,
		logger:  quietLogger(),
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("token: %v", err)
	}
	saved, err := loadToken(path)
	if err != nil {
		t.Fatalf("refreshed token not written: %v", err)
	}
	if saved.AccessToken != "new" {
		t.Fatalf("saved access token = %q", saved.AccessToken)
	}
}

func TestTokenPathFor(t *testing.T) {
	if got := tokenPathFor("/x/token.json", ScopeModify); got != "/x/token.json" {
		t.Fatalf("modify path = %q", got)
	}
	if got := tokenPathFor("/x/token.json", ScopeReadonly); got != "/x/token.readonly.json" {
		t.Fatalf("readonly path = %q", got)
	}
}
