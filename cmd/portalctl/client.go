package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type APIClient struct {
	server string
	http   *http.Client
}

type Identity struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Institution string   `json:"institution,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type Session struct {
	ID           string    `json:"session_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"name"`
	Role         string    `json:"role"`
	Institution  string    `json:"bank"`
	Identity     Identity  `json:"user_data"`
	Origin       string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
}

type SessionStatus struct {
	State          string   `json:"state"`
	Authenticated  bool     `json:"authenticated"`
	Session        *Session `json:"session,omitempty"`
	FailedAttempts int      `json:"failed_attempts"`
}

type LoginPayload struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Institution string `json:"institution,omitempty"`
	Challenge   string `json:"challenge"`
}

type ActivityEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IP        string    `json:"ip"`
}

type ActivityLogResponse struct {
	Entries []ActivityEntry `json:"entries"`
	Total   int             `json:"total"`
}

type ResetResponse struct {
	Username          string `json:"username"`
	TemporaryPassword string `json:"temporary_password"`
}

type AuthzResponse struct {
	Authenticated bool  `json:"authenticated"`
	Role          *bool `json:"role,omitempty"`
	Permission    *bool `json:"permission,omitempty"`
}

type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func NewAPIClient(server string) *APIClient {
	server = strings.TrimRight(server, "/")
	if server == "" {
		server = defaultServer
	}

	return &APIClient{
		server: server,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) Challenge(ctx context.Context) (string, error) {
	var out struct {
		Question string `json:"question"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/challenge", nil, &out); err != nil {
		return "", err
	}
	return out.Question, nil
}

func (c *APIClient) Login(ctx context.Context, payload LoginPayload) (*SessionStatus, error) {
	var out SessionStatus
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/login", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/logout", nil, nil)
}

func (c *APIClient) Session(ctx context.Context) (*SessionStatus, error) {
	var out SessionStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Touch(ctx context.Context, kind string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/activity", map[string]string{"kind": kind}, nil)
}

func (c *APIClient) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/password", map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	}, nil)
}

func (c *APIClient) ResetPassword(ctx context.Context, username string) (*ResetResponse, error) {
	var out ResetResponse
	path := "/api/v1/identities/" + url.PathEscape(username) + "/reset-password"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ActivityLog(ctx context.Context, limit int) (*ActivityLogResponse, error) {
	path := "/api/v1/activity-log"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out ActivityLogResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Authz(ctx context.Context, role, permission string) (*AuthzResponse, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if permission != "" {
		q.Set("permission", permission)
	}
	path := "/api/v1/authz"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out AuthzResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	resBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if err := json.Unmarshal(resBody, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(resBody)))
	}

	if out == nil || len(resBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
