package lark

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAcquireToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenEndpoint {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode token request: %v", err)
		}
		if body["app_id"] != "cli_app" || body["app_secret"] != "s3cret" {
			t.Errorf("unexpected credentials: %v", body)
		}
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-abc123","expire":7200}`))
	}))
	defer srv.Close()

	c := NewClient("cli_app", "s3cret", srv.URL)
	token, err := c.AcquireToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "t-abc123" {
		t.Errorf("expected t-abc123, got %q", token)
	}
}

func TestAcquireToken_PlatformError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":99991663,"msg":"app not found"}`))
	}))
	defer srv.Close()

	c := NewClient("cli_app", "s3cret", srv.URL)
	_, err := c.AcquireToken(context.Background())
	if err == nil {
		t.Fatal("expected error for non-zero code, got nil")
	}
	if !strings.Contains(err.Error(), "99991663") {
		t.Errorf("error should carry the platform code, got: %v", err)
	}
}

func TestDownloadMessageResource_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/open-apis/im/v1/messages/om_1/resources/fk_9"
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("type") != "file" {
			t.Errorf("expected type=file query, got %q", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("OGGDATA"))
	}))
	defer srv.Close()

	c := NewClient("a", "b", srv.URL)
	data, err := c.DownloadMessageResource(context.Background(), "tok", "om_1", "fk_9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "OGGDATA" {
		t.Errorf("unexpected payload: %q", data)
	}
}

func TestDownloadMessageResource_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":230001,"msg":"no permission"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("a", "b", srv.URL)
	_, err := c.DownloadMessageResource(context.Background(), "tok", "om_1", "fk_9")
	if err == nil {
		t.Fatal("expected error for 403 status, got nil")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "no permission") {
		t.Errorf("error should carry status and body for diagnostics, got: %v", err)
	}
}

func TestDownloadMessageResource_JSONErrorBody(t *testing.T) {
	// Platform errors can arrive as HTTP 200 with a JSON error body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":230002,"msg":"resource not found"}`))
	}))
	defer srv.Close()

	c := NewClient("a", "b", srv.URL)
	_, err := c.DownloadMessageResource(context.Background(), "tok", "om_1", "fk_9")
	if err == nil {
		t.Fatal("expected error for JSON error body, got nil")
	}
}

func TestReply_BuildsNestedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open-apis/im/v1/messages/om_1/reply" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["msg_type"] != "text" {
			t.Errorf("expected msg_type text, got %q", body["msg_type"])
		}
		// content is a JSON-encoded string
		var inner TextContent
		if err := json.Unmarshal([]byte(body["content"]), &inner); err != nil {
			t.Errorf("content should be nested JSON: %v", err)
		}
		if inner.Text != "hello there" {
			t.Errorf("unexpected text: %q", inner.Text)
		}
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	c := NewClient("a", "b", srv.URL)
	if err := c.Reply(context.Background(), "tok", "om_1", "hello there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateCalendarEvent_Payload(t *testing.T) {
	start := time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open-apis/calendar/v4/calendars/primary/events" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Summary   string `json:"summary"`
			StartTime struct {
				Timestamp string `json:"timestamp"`
				Timezone  string `json:"timezone"`
			} `json:"start_time"`
			Reminders []struct {
				Minutes int `json:"minutes"`
			} `json:"reminders"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Summary != "buy milk" {
			t.Errorf("unexpected summary: %q", body.Summary)
		}
		if body.StartTime.Timezone != "Asia/Shanghai" {
			t.Errorf("unexpected timezone: %q", body.StartTime.Timezone)
		}
		if len(body.Reminders) != 1 || body.Reminders[0].Minutes != 15 {
			t.Errorf("expected one 15-minute reminder, got %+v", body.Reminders)
		}
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	c := NewClient("a", "b", srv.URL)
	err := c.CreateCalendarEvent(context.Background(), "tok", "buy milk", start, end, "Asia/Shanghai", 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateCalendarEvent_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":190003,"msg":"calendar permission denied"}`))
	}))
	defer srv.Close()

	c := NewClient("a", "b", srv.URL)
	err := c.CreateCalendarEvent(context.Background(), "tok", "x", time.Now(), time.Now().Add(time.Hour), "UTC", 15)
	if err == nil {
		t.Fatal("expected error for non-zero code, got nil")
	}
	if !strings.Contains(err.Error(), "calendar permission denied") {
		t.Errorf("error should carry the platform message, got: %v", err)
	}
}

func TestResolveDomain(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "https://open.feishu.cn"},
		{"feishu", "https://open.feishu.cn"},
		{"lark", "https://open.larksuite.com"},
		{"open.example.com", "https://open.example.com"},
		{"http://localhost:3000", "http://localhost:3000"},
	}
	for _, tc := range cases {
		if got := ResolveDomain(tc.in); got != tc.want {
			t.Errorf("ResolveDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseInboundEvent(t *testing.T) {
	cases := []struct {
		name     string
		msg      EventMessage
		modality Modality
		text     string
		fileKey  string
	}{
		{
			name:     "text message",
			msg:      EventMessage{MessageID: "om_1", ChatID: "oc_1", MessageType: "text", Content: `{"text":"buy milk tomorrow at 5pm"}`},
			modality: ModalityText,
			text:     "buy milk tomorrow at 5pm",
		},
		{
			name:     "audio message",
			msg:      EventMessage{MessageID: "om_2", ChatID: "oc_1", MessageType: "audio", Content: `{"file_key":"fk_9","duration":1800}`},
			modality: ModalityAudio,
			fileKey:  "fk_9",
		},
		{
			name:     "sticker is unsupported",
			msg:      EventMessage{MessageID: "om_3", ChatID: "oc_1", MessageType: "sticker", Content: `{"file_key":"fk_x"}`},
			modality: ModalityUnsupported,
		},
		{
			name:     "malformed text content is unsupported",
			msg:      EventMessage{MessageID: "om_4", ChatID: "oc_1", MessageType: "text", Content: `not-json`},
			modality: ModalityUnsupported,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := ParseInboundEvent(&tc.msg)
			if ev.Modality != tc.modality {
				t.Errorf("modality = %v, want %v", ev.Modality, tc.modality)
			}
			if ev.Text != tc.text {
				t.Errorf("text = %q, want %q", ev.Text, tc.text)
			}
			if ev.FileKey != tc.fileKey {
				t.Errorf("fileKey = %q, want %q", ev.FileKey, tc.fileKey)
			}
		})
	}
}
