package github

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, "test-token")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Client == nil || client.HTTP == nil || client.Download == nil {
		t.Fatalf("Expected all clients to be initialized, got %+v", client)
	}

	// No token still yields a usable, unauthenticated client.
	client, err = NewClient(ctx, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Client == nil {
		t.Error("Expected client to be initialized even without token")
	}
}

func TestNewClient_NilContextReturnsError(t *testing.T) {
	var nilCtx context.Context
	_, err := NewClient(nilCtx, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "ctx is nil") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewClient_WithAPIURL(t *testing.T) {
	c, err := NewClient(context.Background(), "", WithAPIURL("https://ghe.example.com/api/v3"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if got := c.Client.BaseURL.String(); got != "https://ghe.example.com/api/v3/" {
		t.Fatalf("unexpected base url %q", got)
	}
}

func TestHostFromAPIURL(t *testing.T) {
	cases := map[string]string{
		"":                               "github.com",
		"https://api.github.com":         "github.com",
		"https://api.github.com/":        "github.com",
		"https://ghe.example.com/api/v3": "ghe.example.com",
	}
	for in, want := range cases {
		if got := HostFromAPIURL(in); got != want {
			t.Errorf("HostFromAPIURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClient_WithVerbose_LogsAndAuthHeader(t *testing.T) {
	ctx := context.Background()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(server.Close)

	parse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		return u
	}
	debugLogger := func(buf *bytes.Buffer) *slog.Logger {
		return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	t.Run("authenticated API client", func(t *testing.T) {
		gotAuth = ""
		var buf bytes.Buffer
		c, err := NewClient(ctx, "test-token", WithVerbose(true, debugLogger(&buf)))
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		c.Client.BaseURL = parse(server.URL + "/")

		req, err := c.Client.NewRequest("GET", "rate_limit", nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if _, err := c.Client.Do(ctx, req, nil); err != nil {
			t.Fatalf("Do: %v", err)
		}
		if !strings.Contains(buf.String(), "github api request") || !strings.Contains(buf.String(), "status=200") {
			t.Fatalf("expected verbose log, got: %q", buf.String())
		}
		if !strings.Contains(gotAuth, "test-token") {
			t.Fatalf("expected Authorization header to contain token, got %q", gotAuth)
		}
	})

	t.Run("download client never sends the token", func(t *testing.T) {
		gotAuth = ""
		var buf bytes.Buffer
		c, err := NewClient(ctx, "test-token", WithVerbose(true, debugLogger(&buf)))
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		resp, err := c.Download.Get(server.URL + "/archive.zip?sig=secret")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		_ = resp.Body.Close()
		if gotAuth != "" {
			t.Fatalf("expected no Authorization header, got %q", gotAuth)
		}
		if strings.Contains(buf.String(), "secret") {
			t.Fatalf("expected query string to be omitted from logs, got: %q", buf.String())
		}
	})
}
