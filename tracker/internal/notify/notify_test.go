package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

func message() report.Message {
	return report.NewMessage("218", report.Summary{Lines: []string{"06:30: 3 Pallets, salvage"}},
		time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC))
}

func TestWebhook_PostsCard(t *testing.T) {
	var got report.Message
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL).Send(context.Background(), message()))
	assert.Contains(t, contentType, "application/json")
	assert.Equal(t, "06:30: 3 Pallets, salvage", got.Text())
	assert.Equal(t, report.CardID, got.CardsV2[0].CardID)
}

func TestWebhook_BadStatusNotRetried(t *testing.T) {
	// WHAT: A non-2xx reply is an error and is posted exactly once by default.
	// WHY: Delivery failures are logged by the caller, never retried.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), message())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_RetriesWhenConfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, WithWebhookRetries(1)).Send(context.Background(), message()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewWebhook(srv.URL, WithWebhookTimeout(50*time.Millisecond)).Send(context.Background(), message())
	assert.Error(t, err)
}

func TestWebhook_NoURLSkips(t *testing.T) {
	assert.NoError(t, NewWebhook("").Send(context.Background(), message()))
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewStdout(&buf).Send(context.Background(), message()))
	assert.Contains(t, buf.String(), `"cardId": "delivery_plan_today"`)
}

func TestRouter_FanOut(t *testing.T) {
	boom := errors.New("boom")
	var delivered int
	ok := NewCallback(func(context.Context, report.Message) error { delivered++; return nil })
	bad := NewCallback(func(context.Context, report.Message) error { return boom })

	r := NewRouter(nil, bad, ok, NewCallback(nil))
	err := r.Send(context.Background(), message())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 3, r.Len())
	assert.NoError(t, r.Close())
}
