// Package gateway предоставляет клиент платёжного шлюза SumUp: получение и кеширование
// токенов, создание чекаутов, запрос их статуса, список транзакций и возвраты.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 20 * time.Second
	// tokenRenewMargin задаёт, за сколько до истечения токен считается просроченным.
	tokenRenewMargin = 5 * time.Minute
	maxResponseBody  = 1 << 20
)

// TokenSaver сохраняет обновлённые OAuth-токены продавца.
type TokenSaver interface {
	SaveMerchantTokens(ctx context.Context, sellerID int64, accessToken, refreshToken string, expiresAt time.Time) error
}

// Options содержит параметры клиента шлюза.
type Options struct {
	APIURL       string
	AuthURL      string
	ClientID     string
	ClientSecret string
	// APIKey используется, если получить токен платформы не удалось.
	APIKey     string
	Timeout    time.Duration
	RetryMax   int
	TokenSaver TokenSaver
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	apiURL       string
	authURL      string
	clientID     string
	clientSecret string
	apiKey       string
	tokens       TokenSaver

	httpClient *retryablehttp.Client
	logger     *zap.Logger
	now        func() time.Time

	mu             sync.Mutex
	token          string
	tokenExpiresAt time.Time
	refreshGroup   singleflight.Group
}

// NewClient создаёт клиент шлюза с указанными параметрами.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{s: logger.Sugar()}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		apiURL:       normalizeBaseURL(opts.APIURL),
		authURL:      normalizeBaseURL(opts.AuthURL),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		apiKey:       opts.APIKey,
		tokens:       opts.TokenSaver,
		httpClient:   rc,
		logger:       logger,
		now:          time.Now,
	}
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// expiresAt возвращает момент, после которого токен нужно обновить.
func (t tokenResponse) expiresAt(now time.Time) time.Time {
	lifetime := time.Duration(t.ExpiresIn)*time.Second - tokenRenewMargin
	if lifetime < 0 {
		lifetime = 0
	}
	return now.Add(lifetime)
}

// PlatformToken возвращает токен платформы, кешируя его до истечения срока за вычетом запаса.
// Если получить токен не удалось, используется статический API-ключ, если он задан.
func (c *Client) PlatformToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	if c.clientID == "" || c.clientSecret == "" {
		if c.apiKey != "" {
			return c.apiKey, nil
		}
		return "", &AuthError{Err: fmt.Errorf("no client credentials or api key configured")}
	}

	v, err, _ := c.refreshGroup.Do("platform", func() (interface{}, error) {
		tok, err := c.requestToken(ctx, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {c.clientID},
			"client_secret": {c.clientSecret},
		})
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = tok.AccessToken
		c.tokenExpiresAt = tok.expiresAt(c.now())
		c.mu.Unlock()

		return tok.AccessToken, nil
	})
	if err != nil {
		if c.apiKey != "" {
			c.logger.Warn("platform token request failed, falling back to api key", zap.Error(err))
			return c.apiKey, nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return "", authErr
		}
		return "", &AuthError{Err: err}
	}

	return v.(string), nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/token", form.Encode())
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return nil, &AuthError{Err: fmt.Errorf("%w: token status %d", ErrUnauthorized, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{Op: "token", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}

	var tok tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&tok); err != nil {
		return nil, &UnavailableError{Op: "token", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &AuthError{Err: fmt.Errorf("empty access token in response")}
	}

	return &tok, nil
}

// doJSON выполняет запрос к API шлюза и декодирует ответ в out.
// Возвращает тело ответа без изменений для сохранения в аудит.
func (c *Client) doJSON(ctx context.Context, op, method, path, token string, in, out interface{}) ([]byte, error) {
	var body interface{}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		body = payload
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &UnavailableError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Err: fmt.Errorf("%w: %s status %d", ErrUnauthorized, op, resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &UnavailableError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &UnavailableError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	return raw, nil
}

func sellerKey(sellerID int64) string {
	return "merchant:" + strconv.FormatInt(sellerID, 10)
}
