// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package api implements the client for the LiftCV backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/liftcv/liftcv/pkg/auth/provider"
	"github.com/liftcv/liftcv/pkg/errors"
	"github.com/liftcv/liftcv/pkg/logger"
)

const (
	defaultTimeout = 30 * time.Second
	maxTries       = 4
)

// TokenSource supplies the access token attached to backend requests.
// *provider.Cognito satisfies it.
type TokenSource interface {
	FetchSession(ctx context.Context) (*provider.Session, error)
}

// Client talks to the LiftCV REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates an API client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OptimizeResumeRequest is the input to a resume optimization run.
type OptimizeResumeRequest struct {
	ResumeText     string `json:"resume_text"`
	JobDescription string `json:"job_description,omitempty"`
}

// OptimizeResult is the outcome of a resume optimization run.
type OptimizeResult struct {
	ID            string   `json:"id"`
	Score         int      `json:"score"`
	OptimizedText string   `json:"optimized_text"`
	Suggestions   []string `json:"suggestions"`
}

// ProfileAnalysis is the outcome of a LinkedIn profile review.
type ProfileAnalysis struct {
	ID          string   `json:"id"`
	Headline    string   `json:"headline"`
	Score       int      `json:"score"`
	Suggestions []string `json:"suggestions"`
}

// HistoryEntry is one past optimization or analysis run.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// OptimizeResume submits a resume for optimization.
func (c *Client) OptimizeResume(ctx context.Context, req *OptimizeResumeRequest) (*OptimizeResult, error) {
	if req == nil || req.ResumeText == "" {
		return nil, errors.NewInvalidArgumentError("resume text is required", nil)
	}
	var result OptimizeResult
	if err := c.do(ctx, http.MethodPost, "/v1/resumes/optimize", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzeLinkedInProfile submits a LinkedIn profile URL for review.
func (c *Client) AnalyzeLinkedInProfile(ctx context.Context, profileURL string) (*ProfileAnalysis, error) {
	if profileURL == "" {
		return nil, errors.NewInvalidArgumentError("profile URL is required", nil)
	}
	body := map[string]string{"profile_url": profileURL}
	var result ProfileAnalysis
	if err := c.do(ctx, http.MethodPost, "/v1/linkedin/analyze", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetHistory lists the caller's past runs, most recent first.
func (c *Client) GetHistory(ctx context.Context) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/v1/history", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	session, err := c.tokens.FetchSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil || session.Tokens == nil {
		return "", errors.NewNoSessionError("sign in before calling the API", nil)
	}
	if claims, err := provider.ExtractClaims(session.Tokens.AccessToken); err == nil {
		logger.Debugw("calling API", "sub", claims["sub"])
	}
	return session.Tokens.AccessToken, nil
}

// do sends one JSON request with retries. Transient transport errors and
// 5xx answers are retried with exponential backoff; everything else fails
// immediately.
func (c *Client) do(ctx context.Context, method, apiPath string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to encode request body", err)
		}
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("server error: %s", resp.Status)
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, backoff.Permanent(errors.NewNoSessionError("API rejected the session", nil))
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(apiError(resp.StatusCode, data))
		}
		return data, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugf("retrying %s %s after %v: %v", method, apiPath, duration, err)
		}),
	)
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.NewInternalError("failed to decode API response", err)
		}
	}
	return nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return fmt.Errorf("API error (%d): %s", status, e.Message)
	}
	return fmt.Errorf("API error (%d)", status)
}
