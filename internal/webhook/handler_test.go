package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/buildevent"
	"github.com/bissquit/gocd-slack-relay/internal/slackauth"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "8f742231b10e8888abcd99yyyzzz85a5"
	testTimestamp = "1700000000"
	testBotID     = "B0GOCD"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []buildevent.Event
	ctxErr error
}

func (h *recordingHandler) HandleBuildEvent(ctx context.Context, ev buildevent.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	h.ctxErr = ctx.Err()
}

func (h *recordingHandler) received() []buildevent.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]buildevent.Event(nil), h.events...)
}

func setupRouter(t *testing.T, token string) (*chi.Mux, *recordingHandler) {
	t.Helper()

	verifier := slackauth.NewVerifier(testSecret, slackauth.WithClock(func() time.Time {
		return time.Unix(1700000000, 0)
	}))
	extractor := buildevent.NewExtractor(testBotID, []buildevent.Monitor{
		{Name: "foo", FilterPrefix: "Foo_", PostChannel: "foo-builds"},
	}, nil)
	events := &recordingHandler{}

	r := chi.NewRouter()
	NewHandler(verifier, extractor, events, token).RegisterRoutes(r)
	return r, events
}

func signedRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(slackauth.HeaderTimestamp, testTimestamp)
	req.Header.Set(slackauth.HeaderSignature, slackauth.Sign([]byte(testSecret), testTimestamp, []byte(body)))
	return req
}

func messageBody(botID, title string) string {
	payload := map[string]any{
		"token":    "legacy-token",
		"type":     TypeEventCallback,
		"team_id":  "T1",
		"event_id": "Ev1",
		"event": map[string]any{
			"type":    "message",
			"subtype": "bot_message",
			"channel": "C0GOCD",
			"bot_id":  botID,
			"ts":      "1700000000.000100",
			"attachments": []map[string]any{
				{"title": title, "fallback": title},
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestReceiveEvent_URLVerification(t *testing.T) {
	r, events := setupRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, signedRequest(`{"token":"x","type":"url_verification","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", resp["challenge"])
	assert.Empty(t, events.received())
}

func TestReceiveEvent_URLVerificationWithoutChallenge(t *testing.T) {
	r, _ := setupRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, signedRequest(`{"type":"url_verification"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveEvent_BuildEvent(t *testing.T) {
	r, events := setupRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, signedRequest(messageBody(testBotID, "Go pipeline stage [Foo_Bar/20/Deploy/1] passed")))

	require.Equal(t, http.StatusOK, rec.Code)
	received := events.received()
	require.Len(t, received, 1)
	assert.Equal(t, buildevent.Event{
		MonitorName:   "foo",
		Channel:       "foo-builds",
		PipelineStage: "Foo_Bar",
		BuildCounter:  20,
		StepName:      "Deploy",
		Attempt:       1,
		Result:        buildevent.Passed,
	}, received[0])
}

func TestReceiveEvent_TextFallback(t *testing.T) {
	r, events := setupRouter(t, "")
	body := `{"type":"event_callback","event":{"type":"message","bot_id":"B0GOCD","text":"Go pipeline stage [Foo_Bar/21/Build/2] failed"}}`

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, signedRequest(body))

	require.Equal(t, http.StatusOK, rec.Code)
	received := events.received()
	require.Len(t, received, 1)
	assert.Equal(t, buildevent.Failed, received[0].Result)
	assert.Equal(t, uint64(2), received[0].Attempt)
}

func TestReceiveEvent_ContextSurvivesClient(t *testing.T) {
	r, events := setupRouter(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	req := signedRequest(messageBody(testBotID, "Go pipeline stage [Foo_Bar/20/Deploy/1] passed")).WithContext(ctx)
	cancel()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Len(t, events.received(), 1)
	assert.NoError(t, events.ctxErr)
}

func TestReceiveEvent_Ignored(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"other bot", messageBody("B0OTHER", "Go pipeline stage [Foo_Bar/20/Deploy/1] passed")},
		{"chatter", messageBody(testBotID, "deploying now")},
		{"untracked pipeline", messageBody(testBotID, "Go pipeline stage [Baz/20/Deploy/1] passed")},
		{"non-message event", `{"type":"event_callback","event":{"type":"reaction_added","bot_id":"B0GOCD"}}`},
		{"unknown envelope", `{"type":"app_rate_limited"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, events := setupRouter(t, "")

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, signedRequest(tt.body))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, events.received())
		})
	}
}

func TestReceiveEvent_MalformedBody(t *testing.T) {
	r, events := setupRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, signedRequest(`{"type":`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events.received())
}

func TestReceiveEvent_Unauthenticated(t *testing.T) {
	body := messageBody(testBotID, "Go pipeline stage [Foo_Bar/20/Deploy/1] passed")

	tests := []struct {
		name       string
		mutate     func(req *http.Request)
		wantStatus int
	}{
		{
			name:       "missing signature",
			mutate:     func(req *http.Request) { req.Header.Del(slackauth.HeaderSignature) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing timestamp",
			mutate:     func(req *http.Request) { req.Header.Del(slackauth.HeaderTimestamp) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad signature",
			mutate: func(req *http.Request) {
				req.Header.Set(slackauth.HeaderSignature, slackauth.Sign([]byte("wrong"), testTimestamp, []byte(body)))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "stale timestamp",
			mutate: func(req *http.Request) {
				req.Header.Set(slackauth.HeaderTimestamp, "1699999000")
				req.Header.Set(slackauth.HeaderSignature, slackauth.Sign([]byte(testSecret), "1699999000", []byte(body)))
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, events := setupRouter(t, "")
			req := signedRequest(body)
			tt.mutate(req)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Empty(t, events.received())
		})
	}
}

func TestReceiveEvent_VerificationToken(t *testing.T) {
	body := messageBody(testBotID, "Go pipeline stage [Foo_Bar/20/Deploy/1] passed")

	t.Run("matching token", func(t *testing.T) {
		r, events := setupRouter(t, "legacy-token")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, signedRequest(body))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, events.received(), 1)
	})

	t.Run("mismatched token", func(t *testing.T) {
		r, events := setupRouter(t, "other-token")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, signedRequest(body))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, events.received())
	})
}

func TestReceiveEvent_BodyTooLarge(t *testing.T) {
	r, events := setupRouter(t, "")
	body := `{"type":"event_callback","padding":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, signedRequest(body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, events.received())
}

func TestReceiveEvent_SlackRetryAccepted(t *testing.T) {
	r, events := setupRouter(t, "")
	req := signedRequest(messageBody(testBotID, "Go pipeline stage [Foo_Bar/20/Deploy/1] passed"))
	req.Header.Set("X-Slack-Retry-Num", "1")
	req.Header.Set("X-Slack-Retry-Reason", "http_timeout")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, events.received(), 1)
}

func TestAppStatus(t *testing.T) {
	r, _ := setupRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app_status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
