package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSolverClientSolve(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		body      string
		wantToken ChallengeToken
		wantOK    bool
	}{
		{name: "token returned", status: http.StatusOK, body: `{"token":"0.abc"}`, wantToken: "0.abc", wantOK: true},
		{name: "empty token", status: http.StatusOK, body: `{"token":""}`},
		{name: "missing token field", status: http.StatusOK, body: `{"error":"timeout"}`},
		{name: "malformed json", status: http.StatusOK, body: `not json`},
		{name: "server error page", status: http.StatusInternalServerError, body: `<html>oops</html>`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotPath, gotURL, gotKey string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotURL = r.URL.Query().Get("url")
				gotKey = r.URL.Query().Get("sitekey")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			s := NewSolverClient(srv.URL+"/", srv.Client(), zaptest.NewLogger(t))
			token, ok := s.Solve(context.Background(), "https://portal.test/login?x=1&y=2", "0x4AAAA")

			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantToken, token)
			assert.Equal(t, "/turnstile", gotPath)
			assert.Equal(t, "https://portal.test/login?x=1&y=2", gotURL)
			assert.Equal(t, "0x4AAAA", gotKey)
		})
	}
}

func TestSolverClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	s := NewSolverClient(base, nil, zaptest.NewLogger(t))
	token, ok := s.Solve(context.Background(), "https://portal.test/login", "key")
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestSolverClientHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := NewSolverClient(srv.URL, srv.Client(), zaptest.NewLogger(t)).Solve(ctx, "https://portal.test/login", "key")
	require.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}
