package marketplace

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

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// maxErrorBody - сколько байт тела ответа с ошибкой попадает в текст ошибки
const maxErrorBody = 512

// Config - параметры подключения к API маркетплейса
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
	// ClientID/ClientSecret/TokenURL включают OAuth2 client credentials вместо APIKey
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Client - HTTP-транспорт маркетплейса: отправка конвертов и чтение статуса.
// Повторы выполняет вызывающая сторона; клиент только классифицирует ошибки.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	userAgent   string
	rateLimiter *rate.Limiter
	logger      interfaces.LoggerPort
}

// NewClient создает клиент маркетплейса
func NewClient(cfg Config, logger interfaces.LoggerPort) *Client {
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cfg.APIKey = ""
	}
	return &Client{
		httpClient:  newHTTPClient(cfg),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		userAgent:   userAgentOrDefault(cfg.UserAgent),
		rateLimiter: newLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:      logger,
	}
}

// newHTTPClient возвращает клиент, который сам получает и обновляет токен,
// если заданы параметры OAuth2
func newHTTPClient(cfg Config) *http.Client {
	if cfg.ClientID == "" || cfg.TokenURL == "" {
		return &http.Client{Timeout: cfg.Timeout}
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	base := &http.Client{Timeout: cfg.Timeout}
	httpClient := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	httpClient.Timeout = cfg.Timeout
	return httpClient
}

func userAgentOrDefault(ua string) string {
	if ua == "" {
		return "gomarket-feed/1.0"
	}
	return ua
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
}

// Submit отправляет конверт и возвращает идентификатор отправки
func (c *Client) Submit(ctx context.Context, envelope *models.Envelope) (string, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return "", utils.Permanent(fmt.Errorf("failed to marshal envelope: %w", err))
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/feeds", nil, body, &resp); err != nil {
		return "", err
	}

	c.logger.Debug("Конверт принят маркетплейсом",
		interfaces.LogField{Key: "submission_id", Value: resp.SubmissionID},
		interfaces.LogField{Key: "items", Value: len(envelope.Items)},
		interfaces.LogField{Key: "bytes", Value: len(body)},
	)
	return resp.SubmissionID, nil
}

// GetStatus запрашивает страницу вердиктов отправки
func (c *Client) GetStatus(ctx context.Context, submissionID string, offset, limit int) (*models.StatusPage, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/v1/feeds/%s/status", c.baseURL, url.PathEscape(submissionID))

	var page models.StatusPage
	if err := c.do(ctx, http.MethodGet, endpoint, params, nil, &page); err != nil {
		return nil, err
	}
	if page.SubmissionID != "" && page.SubmissionID != submissionID {
		return nil, fmt.Errorf("%w: status for %q returned submission %q", models.ErrMalformedResponse, submissionID, page.SubmissionID)
	}
	return &page, nil
}

// do выполняет запрос с учетом лимита и разбирает JSON-ответ в out.
// Сетевые ошибки и 5xx/429 оборачивают models.ErrTransport, остальные 4xx не повторяются.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body []byte, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	reqURL := endpoint
	if len(params) > 0 {
		reqURL = endpoint + "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", models.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, endpoint, resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedResponse, err)
	}
	return nil
}

// StatusError - ответ маркетплейса с кодом вне 2xx
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s: status %d: %s", models.ErrTransport, e.Method, e.URL, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return models.ErrTransport }

// Retryable сообщает, имеет ли смысл повторить запрос
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func statusError(method, endpoint string, code int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := &StatusError{Method: method, URL: endpoint, Code: code, Body: strings.TrimSpace(string(body))}
	if err.Retryable() {
		return err
	}
	return utils.Permanent(err)
}
