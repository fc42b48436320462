package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url + "/", APIKey: "secret", Timeout: time.Second}, logger.NewNop())
}

func TestSubmitSendsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/feeds", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var envelope models.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		assert.Equal(t, "batch-1", envelope.Header.SubmissionContext)
		assert.Len(t, envelope.Items, 2)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"submissionId": "sub-42"})
	}))
	defer server.Close()

	envelope := &models.Envelope{
		Header: models.EnvelopeHeader{SubmissionContext: "batch-1", Locale: "en_US", SchemaVersion: "2.0"},
		Items:  []models.TargetPayload{{SKU: "a"}, {SKU: "b"}},
	}

	id, err := newTestClient(server.URL).Submit(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, "sub-42", id)
}

func TestGetStatusPassesPaging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/feeds/sub-1/status", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(models.StatusPage{
			SubmissionID: "sub-1",
			Declared:     60,
			Succeeded:    58,
			Failed:       2,
			ItemOutcomes: []models.ItemOutcome{{SKU: "a", Outcome: "SUCCESS"}, {SKU: "b", Outcome: "DATA_ERROR", ErrorDetails: "bad upc"}},
		})
	}))
	defer server.Close()

	page, err := newTestClient(server.URL).GetStatus(context.Background(), "sub-1", 50, 25)
	require.NoError(t, err)
	assert.Equal(t, 60, page.Declared)
	require.Len(t, page.ItemOutcomes, 2)
	assert.Equal(t, "bad upc", page.ItemOutcomes[1].ErrorDetails)
}

func TestGetStatusRejectsForeignSubmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.StatusPage{SubmissionID: "other"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetStatus(context.Background(), "sub-1", 0, 10)
	assert.ErrorIs(t, err, models.ErrMalformedResponse)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		retryable bool
		malformed bool
	}{
		{name: "server error", code: http.StatusBadGateway, retryable: true},
		{name: "throttled", code: http.StatusTooManyRequests, retryable: true},
		{name: "bad request", code: http.StatusBadRequest},
		{name: "broken json", code: http.StatusOK, body: "{", retryable: true, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			err := utils.Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context, _ int) error {
				_, err := client.Submit(ctx, &models.Envelope{})
				return err
			})
			require.Error(t, err)

			if tt.malformed {
				assert.ErrorIs(t, err, models.ErrMalformedResponse)
			} else {
				assert.ErrorIs(t, err, models.ErrTransport)
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.code, se.Code)
			}

			expected := int32(1)
			if tt.retryable {
				expected = 3
			}
			assert.Equal(t, expected, atomic.LoadInt32(&calls))
		})
	}
}

func TestNetworkErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url).GetStatus(context.Background(), "sub-1", 0, 10)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 0.001, Burst: 1}, logger.NewNop())
	require.True(t, client.rateLimiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.GetStatus(ctx, "sub-1", 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestFetchSpec(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/product-types/Boots/spec":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"productType": "Boots",
				"fields": []map[string]interface{}{
					{"name": "color", "kind": "select", "allowed_values": []string{"Black", "Navy Blue"}},
					{"name": "item_name", "kind": "text", "required": true},
					{"name": "mystery", "kind": "hologram"},
					{"name": " ", "kind": "text"},
				},
			})
		case "/v1/product-types/Unknown/spec":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	specs := NewSpecClient(Config{BaseURL: server.URL}, logger.NewNop())
	ctx := context.Background()

	set, err := specs.FetchSpec(ctx, "Boots")
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Equal(t, models.FieldKindSelect, set["color"].Kind)
	assert.Equal(t, []string{"Black", "Navy Blue"}, set["color"].AllowedValues)
	assert.True(t, set["item_name"].Required)
	assert.Equal(t, models.FieldKindText, set["mystery"].Kind)

	set, err = specs.FetchSpec(ctx, "Unknown")
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = specs.FetchSpec(ctx, "Broken")
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestClientCredentialsToken(t *testing.T) {
	var tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			atomic.AddInt32(&tokenCalls, 1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
		case "/v1/feeds":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"submissionId":"sub-7"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:      server.URL,
		ClientID:     "feed",
		ClientSecret: "s3cret",
		TokenURL:     server.URL + "/oauth/token",
		Timeout:      time.Second,
	}, logger.NewNop())

	for i := 0; i < 2; i++ {
		id, err := client.Submit(context.Background(), &models.Envelope{})
		require.NoError(t, err)
		assert.Equal(t, "sub-7", id)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}
