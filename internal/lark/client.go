// Package lark is a lightweight Feishu/Lark open platform client using
// net/http: tenant token issuance, message resource download, text replies,
// and calendar event creation.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	tokenEndpoint = "/open-apis/auth/v3/tenant_access_token/internal"

	// maxDownloadBytes caps message resource downloads (voice clips are small).
	maxDownloadBytes = 32 << 20
)

// Client talks to the Feishu/Lark REST API. It holds no token state:
// callers acquire a tenant token per pipeline run and pass it explicitly.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
}

// NewClient creates a Lark API client for the given app identity.
func NewClient(appID, appSecret, domain string) *Client {
	return &Client{
		baseURL:    ResolveDomain(domain),
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveDomain maps the short domain names to API base URLs.
func ResolveDomain(domain string) string {
	switch domain {
	case "", "feishu":
		return "https://open.feishu.cn"
	case "lark":
		return "https://open.larksuite.com"
	default:
		if !strings.HasPrefix(domain, "http") {
			return "https://" + domain
		}
		return strings.TrimRight(domain, "/")
	}
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// --- Token issuance ---

// AcquireToken fetches a fresh tenant_access_token. No caching: each
// pipeline run owns its own token and the token never outlives the run.
func (c *Client) AcquireToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lark token request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("lark token decode: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("lark token error: code=%d msg=%s", result.Code, result.Msg)
	}
	return result.TenantAccessToken, nil
}

// --- Message resources ---

// DownloadMessageResource fetches the binary payload of a message attachment
// (voice clip, file) by its file key.
func (c *Client) DownloadMessageResource(ctx context.Context, token, messageID, fileKey string) ([]byte, error) {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/resources/%s?type=file", messageID, fileKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lark download %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("lark read download: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lark download failed: status=%d body=%s", resp.StatusCode, truncate(data, 512))
	}

	// A JSON body with a non-zero code is a platform error even on HTTP 200.
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" {
		var errResp apiResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Code != 0 {
			return nil, fmt.Errorf("lark download error: code=%d msg=%s", errResp.Code, errResp.Msg)
		}
	}

	return data, nil
}

// --- Replies ---

// Reply posts a plain-text reply into the thread of the given message.
func (c *Client) Reply(ctx context.Context, token, messageID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	body := map[string]string{
		"msg_type": "text",
		"content":  string(content),
	}

	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/reply", messageID)
	resp, err := c.doJSON(ctx, token, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("lark reply: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// --- Calendar ---

// CreateCalendarEvent creates an event on the app's primary calendar with a
// reminder. Timestamps are epoch seconds; timezone names the civil zone the
// timestamps should render in.
func (c *Client) CreateCalendarEvent(ctx context.Context, token, summary string, start, end time.Time, timezone string, reminderMinutes int) error {
	body := map[string]interface{}{
		"summary": summary,
		"start_time": map[string]string{
			"timestamp": strconv.FormatInt(start.Unix(), 10),
			"timezone":  timezone,
		},
		"end_time": map[string]string{
			"timestamp": strconv.FormatInt(end.Unix(), 10),
			"timezone":  timezone,
		},
		"reminders": []map[string]int{
			{"minutes": reminderMinutes},
		},
	}

	resp, err := c.doJSON(ctx, token, http.MethodPost, "/open-apis/calendar/v4/calendars/primary/events", body)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("lark calendar create: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// --- Generic API helper ---

// doJSON performs a bearer-authenticated JSON API call.
func (c *Client) doJSON(ctx context.Context, token, method, path string, body interface{}) (*apiResponse, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lark api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("lark api read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lark api %s %s: status=%d body=%s", method, path, resp.StatusCode, truncate(raw, 512))
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("lark api decode: %w", err)
	}
	return &result, nil
}

func truncate(b []byte, max int) string {
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
