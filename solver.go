package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ChallengeToken is bound to the page it was solved for. Use it once.
type ChallengeToken string

type ChallengeSolver interface {
	Solve(ctx context.Context, pageURL, siteKey string) (ChallengeToken, bool)
}

// SolverClient talks to a local Turnstile solving service.
type SolverClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type solverResponse struct {
	Token string `json:"token"`
}

// NewSolverClient uses client as is; a nil client means http.DefaultClient.
// No timeout is set here, callers bound the call with ctx.
func NewSolverClient(baseURL string, client *http.Client, logger *zap.Logger) *SolverClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &SolverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.Named("solver"),
	}
}

// Solve issues one request. Transport errors, bad payloads and a missing
// token all come back as ("", false).
func (s *SolverClient) Solve(ctx context.Context, pageURL, siteKey string) (ChallengeToken, bool) {
	token, err := s.solve(ctx, pageURL, siteKey)
	if err != nil {
		s.logger.Warn("Challenge solver failed", zap.Error(err))
		return "", false
	}
	if token == "" {
		s.logger.Info("Challenge solver returned no token")
		return "", false
	}
	s.logger.Info("Challenge solver returned a token")
	return ChallengeToken(token), true
}

func (s *SolverClient) solve(ctx context.Context, pageURL, siteKey string) (string, error) {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("sitekey", siteKey)
	endpoint := s.baseURL + "/turnstile?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	s.logger.Debug("Requesting challenge token", zap.String("endpoint", endpoint))
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed solverResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse solver response (HTTP %d): %w", resp.StatusCode, err)
	}
	return parsed.Token, nil
}
