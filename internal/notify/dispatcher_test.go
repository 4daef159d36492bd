package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/rules"
)

// tinyJPEG is enough bytes to round-trip base64; senders never decode
// the image content.
var tinyJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}

func alertFor(ruleType string, target rules.NotificationTarget) rules.AlertEvent {
	target.Type = ruleType
	return rules.AlertEvent{
		Rule: rules.WatchRule{
			ID:              "r_test0001",
			Name:            "door watch",
			Condition:       "the door is open",
			CameraID:        "cam1",
			Priority:        rules.PriorityHigh,
			Enabled:         true,
			CooldownSeconds: 60,
			Notification:    target,
		},
		Evaluation: rules.Evaluation{
			RuleID:     "r_test0001",
			Triggered:  true,
			Confidence: 0.9,
			Reasoning:  "door visibly open",
			Timestamp:  time.Now(),
		},
		SceneSummary: "hallway with open door",
	}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return NewDispatcher(config.Notifications{}, "", nil)
}

func TestDispatch_LocalIsNoop(t *testing.T) {
	d := newTestDispatcher(t)
	ok := d.Dispatch(context.Background(), alertFor(rules.NotifyLocal, rules.NotificationTarget{}))
	assert.True(t, ok)
}

func TestDispatch_WebhookPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	event := alertFor(rules.NotifyWebhook, rules.NotificationTarget{URL: srv.URL})
	event.FrameBase64 = base64.StdEncoding.EncodeToString(tinyJPEG)

	ok := d.Dispatch(context.Background(), event)
	require.True(t, ok)
	assert.Equal(t, "r_test0001", got["rule_id"])
	assert.Equal(t, "door watch", got["rule_name"])
	assert.Equal(t, 0.9, got["confidence"])
	assert.NotEmpty(t, got["image_base64"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestDispatch_WebhookFailureReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	ok := d.Dispatch(context.Background(), alertFor(rules.NotifyWebhook, rules.NotificationTarget{URL: srv.URL}))
	assert.False(t, ok)
}

func TestDispatch_NtfyWithFrame(t *testing.T) {
	var method, title, priority, xmsg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		title = r.Header.Get("Title")
		priority = r.Header.Get("Priority")
		xmsg = r.Header.Get("X-Message")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	event := alertFor(rules.NotifyNtfy, rules.NotificationTarget{URL: srv.URL, Target: "alerts"})
	event.FrameBase64 = base64.StdEncoding.EncodeToString(tinyJPEG)

	require.True(t, d.Dispatch(context.Background(), event))
	assert.Equal(t, http.MethodPut, method, "frame goes as binary PUT")
	assert.Equal(t, "Alert: door watch", title)
	assert.Equal(t, "4", priority, "high maps to ntfy 4")
	assert.Contains(t, xmsg, "door visibly open")
	assert.NotContains(t, xmsg, "\n")
}

func TestDispatch_NtfyTextOnly(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	require.True(t, d.Dispatch(context.Background(), alertFor(rules.NotifyNtfy, rules.NotificationTarget{URL: srv.URL, Target: "alerts"})))
	assert.Equal(t, http.MethodPost, method)
}

func TestDispatch_SlackBlocks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	require.True(t, d.Dispatch(context.Background(), alertFor(rules.NotifySlack, rules.NotificationTarget{URL: srv.URL})))

	blocks, ok := got["blocks"].([]any)
	require.True(t, ok)
	assert.Len(t, blocks, 3)
	assert.Contains(t, got["text"], "door watch")
}

func TestDispatch_DiscordEmbed(t *testing.T) {
	var contentType string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	require.True(t, d.Dispatch(context.Background(), alertFor(rules.NotifyDiscord, rules.NotificationTarget{URL: srv.URL})))
	assert.Equal(t, "application/json", contentType)
	embeds := got["embeds"].([]any)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Alert: door watch", embed["title"])
}

func TestDispatch_DiscordWithFrameIsMultipart(t *testing.T) {
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	event := alertFor(rules.NotifyDiscord, rules.NotificationTarget{URL: srv.URL})
	event.FrameBase64 = base64.StdEncoding.EncodeToString(tinyJPEG)
	require.True(t, d.Dispatch(context.Background(), event))
	assert.True(t, strings.HasPrefix(contentType, "multipart/form-data"))
}

func TestDispatch_TelegramSendPhoto(t *testing.T) {
	var path, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	old := telegramAPI
	telegramAPI = srv.URL
	defer func() { telegramAPI = old }()

	d := NewDispatcher(config.Notifications{TelegramToken: "tok", TelegramChat: "42"}, "", nil)
	event := alertFor(rules.NotifyTelegram, rules.NotificationTarget{})
	event.FrameBase64 = base64.StdEncoding.EncodeToString(tinyJPEG)

	require.True(t, d.Dispatch(context.Background(), event))
	assert.Equal(t, "/bottok/sendPhoto", path)
	assert.True(t, strings.HasPrefix(contentType, "multipart/form-data"))
}

func TestDispatch_CustomMessageOverrides(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	event := alertFor(rules.NotifyWebhook, rules.NotificationTarget{URL: srv.URL})
	event.Rule.CustomMessage = "Feed the cat NOW"

	require.True(t, d.Dispatch(context.Background(), event))
	assert.Equal(t, "Feed the cat NOW", got["message"])
	assert.Equal(t, "Feed the cat NOW", got["custom_message"])
}

func TestDispatch_DuplicateSuppressedWithinCooldown(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	now := time.Unix(1700000000, 0)
	d.SetClock(func() time.Time { return now })

	event := alertFor(rules.NotifyWebhook, rules.NotificationTarget{URL: srv.URL})
	assert.True(t, d.Dispatch(context.Background(), event))
	assert.True(t, d.Dispatch(context.Background(), event), "duplicate is suppressed, not failed")
	assert.Equal(t, 1, hits)

	now = now.Add(61 * time.Second)
	assert.True(t, d.Dispatch(context.Background(), event))
	assert.Equal(t, 2, hits, "past the cooldown window delivery resumes")
}

func TestDispatch_OpenClawTwoStage(t *testing.T) {
	var calls [][]string
	d := NewDispatcher(config.Notifications{OpenClawChannel: "sms", OpenClawTarget: "+1555"}, "", nil)
	d.runCmd = func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		if len(calls) == 1 {
			return assert.AnError // media attach fails
		}
		return nil
	}

	event := alertFor(rules.NotifyOpenClaw, rules.NotificationTarget{})
	event.FrameBase64 = base64.StdEncoding.EncodeToString(tinyJPEG)

	assert.True(t, d.Dispatch(context.Background(), event))
	require.Len(t, calls, 2)
	assert.Contains(t, strings.Join(calls[0], " "), "--media")
	assert.NotContains(t, strings.Join(calls[1], " "), "--media")
}

func TestFanoutPairs(t *testing.T) {
	pairs := fanoutPairs(rules.NotificationTarget{Channel: "sms,email", Target: "+1555,bob@example.com"})
	require.Len(t, pairs, 2)
	assert.Equal(t, channelPair{"sms", "+1555"}, pairs[0])
	assert.Equal(t, channelPair{"email", "bob@example.com"}, pairs[1])

	pairs = fanoutPairs(rules.NotificationTarget{Channel: "sms", Target: "a,b,c"})
	require.Len(t, pairs, 3)
	assert.Equal(t, "sms", pairs[2].channel, "short list repeats its last value")

	pairs = fanoutPairs(rules.NotificationTarget{})
	require.Len(t, pairs, 1, "no lists still means one delivery")
}

func TestDesktopRateLimit(t *testing.T) {
	d := newTestDispatcher(t)
	now := time.Unix(1700000000, 0)
	d.SetClock(func() time.Time { return now })

	var calls int
	d.runCmd = func(ctx context.Context, name string, args ...string) error {
		calls++
		return nil
	}

	assert.True(t, d.sendDesktop("t", "b"))
	assert.True(t, d.sendDesktop("t", "b"), "rate-limited call reports success")
	assert.Equal(t, 1, calls)

	now = now.Add(11 * time.Second)
	assert.True(t, d.sendDesktop("t", "b"))
	assert.Equal(t, 2, calls)
}

func TestDispatch_UnknownTypeFails(t *testing.T) {
	d := newTestDispatcher(t)
	ok := d.Dispatch(context.Background(), alertFor("carrier_pigeon", rules.NotificationTarget{}))
	assert.False(t, ok)
}
