package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/net/http2"

	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
)

// HTTPClient talks to the inventory service over HTTP.
type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
	baseURL   string
	userAgent string
	logger    *events.Logger

	mu    sync.RWMutex
	token string

	// Retry configuration for reads
	maxRetries int
	retryDelay time.Duration
}

var _ Inventory = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		transport:  transport,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// AllowInsecureTLS disables certificate verification. Development only.
func (c *HTTPClient) AllowInsecureTLS() {
	c.transport.TLSClientConfig.InsecureSkipVerify = true
	c.logger.Warn("TLS certificate verification disabled")
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the service root.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// ActiveList fetches the active list. A 404 means there is none.
func (c *HTTPClient) ActiveList(ctx context.Context, instanceID string) (*models.ShoppingList, error) {
	var list models.ShoppingList
	err := c.do(ctx, http.MethodGet, listPath(instanceID), nil, &list)
	if models.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if list.InstanceID == "" {
		list.InstanceID = instanceID
	}
	return &list, nil
}

// GenerateList creates a list from stock levels.
func (c *HTTPClient) GenerateList(ctx context.Context, instanceID string, merge bool) (*models.ShoppingList, error) {
	var list models.ShoppingList
	if err := c.do(ctx, http.MethodPost, listPath(instanceID)+"/generate", generateRequest{Merge: merge}, &list); err != nil {
		return nil, err
	}

	if list.InstanceID == "" {
		list.InstanceID = instanceID
	}
	return &list, nil
}

// CompleteList archives the active list.
func (c *HTTPClient) CompleteList(ctx context.Context, instanceID string) (string, error) {
	var resp completeResponse
	if err := c.do(ctx, http.MethodPost, listPath(instanceID)+"/complete", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// BulkAddItems adds products to the active list.
func (c *HTTPClient) BulkAddItems(ctx context.Context, instanceID string, items []AddItemRequest) ([]models.ShoppingListItem, error) {
	var out []models.ShoppingListItem
	if err := c.do(ctx, http.MethodPost, itemsPath(instanceID, "bulk-add"), bulkAddRequest{Items: items}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkUpdateItems applies partial updates.
func (c *HTTPClient) BulkUpdateItems(ctx context.Context, instanceID string, updates []models.ItemUpdate) ([]models.ShoppingListItem, error) {
	var out []models.ShoppingListItem
	if err := c.do(ctx, http.MethodPatch, itemsPath(instanceID, "bulk-update"), bulkUpdateRequest{Updates: updates}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkRemoveItems removes items by id.
func (c *HTTPClient) BulkRemoveItems(ctx context.Context, instanceID string, itemIDs []string) ([]models.ShoppingListItem, error) {
	var out []models.ShoppingListItem
	if err := c.do(ctx, http.MethodPost, itemsPath(instanceID, "bulk-remove"), bulkRemoveRequest{ItemIDs: itemIDs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Product fetches catalog metadata.
func (c *HTTPClient) Product(ctx context.Context, instanceID string, productID int) (*models.Product, error) {
	var product models.Product
	if err := c.do(ctx, http.MethodGet, productPath(instanceID, productID), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// statusError marks a retryable HTTP status inside the retry loop.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server error %d", e.status)
}

// do executes a JSON request. Reads are retried on 5xx and 429; writes are
// sent once. A request that gets no response fails with a NetworkError and
// a non-2xx response fails with an APIError.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	url := c.baseURL + path

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
		"size":   len(body),
	}).Debug("Sending request")

	var (
		status   int
		respBody []byte
		header   http.Header
	)
	attempt := func() error {
		var err error
		status, respBody, header, err = c.send(ctx, method, url, body)
		if err != nil {
			return err
		}
		if c.isRetryable(status) {
			return &statusError{status: status}
		}
		return nil
	}

	var err error
	if method == http.MethodGet {
		err = c.retry(ctx, attempt)
	} else {
		err = attempt()
	}

	var se *statusError
	if err != nil && !errors.As(err, &se) {
		return &models.NetworkError{Op: method + " " + path, Err: err}
	}

	c.logger.WithFields(map[string]interface{}{
		"status": status,
		"size":   len(respBody),
	}).Debug("Received response")

	if status < 200 || status >= 300 {
		return c.apiError(status, respBody, header)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	return nil
}

func (c *HTTPClient) send(ctx context.Context, method, url string, body []byte) (int, []byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.GetToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, resp.Header, nil
}

func (c *HTTPClient) apiError(status int, body []byte, header http.Header) *models.APIError {
	apiErr := &models.APIError{}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if apiErr.Code == "" {
		apiErr.Code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	if apiErr.RequestID == "" && header != nil {
		apiErr.RequestID = header.Get("X-Request-ID")
	}
	apiErr.StatusCode = status
	return apiErr
}

// retry runs fn with exponential backoff, starting at retryDelay. Context
// errors end the loop at once; other failures are retried up to maxRetries
// times.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryDelay))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempts > 0 {
			c.logger.WithField("attempt", attempts).Debug("Retrying request")
		}
		attempts++

		err := fn()
		if err == nil || !c.isRetryableError(err) {
			return err
		}
		return retry.RetryableError(err)
	})

	if err != nil && attempts > c.maxRetries && c.isRetryableError(err) {
		return fmt.Errorf("max retries exceeded: %w", err)
	}
	return err
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable.
func (c *HTTPClient) isRetryableError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
