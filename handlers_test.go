package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otplink/internal/forwarding"
	"otplink/internal/mailer"
	"otplink/internal/maintenance"
	"otplink/internal/metrics"
	"otplink/internal/pipeline"
	"otplink/internal/store"
	"otplink/internal/worker"
)

var testMetrics = metrics.New()

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Send(otp, sender, message string, at time.Time, settings *forwarding.MailSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, otp)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type testApp struct {
	router *gin.Engine
	kv     *store.Memory
	sender *captureSender
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv := store.NewMemory()
	configs := forwarding.NewConfigStore(kv)
	dedup := forwarding.NewDedupWindow(kv)
	records := forwarding.NewRecordLog(kv)
	sender := &captureSender{}
	pipe := pipeline.New(configs, dedup, records, sender, testMetrics)

	dispatcher := worker.NewDispatcher(2, 16, func(job worker.Job) {
		pipe.Process(job.Sender, job.Message, job.ReceivedAt)
	})
	t.Cleanup(dispatcher.Stop)

	janitor := maintenance.NewJanitor(time.Hour, dedup, records, testMetrics)

	router := gin.New()
	NewHandlers(kv, nil, configs, dedup, records, dispatcher, janitor).SetupRoutes(router)
	return &testApp{router: router, kv: kv, sender: sender}
}

func (a *testApp) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) waitForSends(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.sender.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, got %d", n, a.sender.count())
}

const testConfigBlob = `{
	"keywords": ["otp", "code"],
	"otpMinLength": 4,
	"otpMaxLength": 8,
	"smsListenerEnabled": true,
	"emailSettings": {
		"smtpHost": "smtp.example.com",
		"smtpPort": 587,
		"username": "relay@example.com",
		"password": "secret",
		"recipient": "a@b.com"
	}
}`

func TestDeliverEndToEnd(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPut, "/api/v1/config", testConfigBlob)
	require.Equal(t, http.StatusOK, w.Code)

	at := time.Now().UnixMilli()
	w = app.do(http.MethodPost, "/api/v1/sms", fmt.Sprintf(
		`{"sender":"+1234567890","message":"Your OTP is 123456 for verification","timestamp":%d}`, at))
	assert.Equal(t, http.StatusAccepted, w.Code)

	app.waitForSends(t, 1)

	// Record feed shows the forwarded event, newest first. The append happens
	// just after the send, so poll briefly.
	var feed struct {
		Records []forwarding.Record `json:"records"`
		Count   int                 `json:"count"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = app.do(http.MethodGet, "/api/v1/records", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
		if feed.Count == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, feed.Count)
	assert.Equal(t, "123456", feed.Records[0].Otp)
	assert.Equal(t, "+1234567890", feed.Records[0].Sender)
	assert.True(t, feed.Records[0].Forwarded)

	// The dedup query agrees with the pipeline's bucketing.
	w = app.do(http.MethodGet, fmt.Sprintf("/api/v1/dedup?otp=123456&sender=%%2B1234567890&timestamp=%d", at), "")
	require.Equal(t, http.StatusOK, w.Code)
	var check DedupCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.True(t, check.Processed)
}

func TestDeliverRedeliverySuppressed(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.do(http.MethodPut, "/api/v1/config", testConfigBlob).Code)

	// Align to a bucket start so the +10s redelivery stays in the same bucket.
	at := time.Now().UnixMilli() / 300000 * 300000
	body := fmt.Sprintf(`{"sender":"+1234567890","message":"Your code is 9876","timestamp":%d}`, at)
	require.Equal(t, http.StatusAccepted, app.do(http.MethodPost, "/api/v1/sms", body).Code)
	app.waitForSends(t, 1)

	// Same message again, 10 seconds later in the same bucket.
	body = fmt.Sprintf(`{"sender":"+1234567890","message":"Your code is 9876","timestamp":%d}`, at+10000)
	require.Equal(t, http.StatusAccepted, app.do(http.MethodPost, "/api/v1/sms", body).Code)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, app.sender.count(), "redelivery within the bucket must not produce a second email")
}

func TestDeliverValidation(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/api/v1/sms", `{"message":"no sender"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodPost, "/api/v1/sms", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigRoundTrip(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/api/v1/config", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(http.MethodPut, "/api/v1/config", `{"keywords":["otp"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"keywords":["otp"]}`, w.Body.String())
}

func TestConfigRejectsMalformedPayload(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPut, "/api/v1/config", "{broken")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodPut, "/api/v1/config", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDedupQueryValidation(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/api/v1/dedup?otp=1234", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodGet, "/api/v1/dedup?otp=1234&sender=s&timestamp=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodGet, "/api/v1/dedup?otp=1234&sender=s", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var check DedupCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.False(t, check.Processed)
}

func TestMaintenanceEndpoints(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/api/v1/maintenance/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"stopped"`)

	w = app.do(http.MethodPost, "/api/v1/maintenance/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Store)
}

// The SMTP mailer satisfies the pipeline's sender contract.
var _ pipeline.MailSender = (*mailer.SMTP)(nil)
