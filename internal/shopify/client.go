// Package shopify reads pages and articles from the Shopify Admin GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aerochat/shopsync/internal/content"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion        = "2025-01"
	defaultRequestTimeout    = 20 * time.Second
	defaultThrottleThreshold = 50
	maxThrottleRetries       = 3
	maxErrorBodyBytes        = 2048
	accessTokenHeader        = "X-Shopify-Access-Token"
	throttledCode            = "THROTTLED"
)

var (
	// ErrUnauthorized indicates Shopify rejected the access token.
	ErrUnauthorized = errors.New("shopify: access token rejected")
	// ErrGraphQL indicates the response carried GraphQL errors.
	ErrGraphQL = errors.New("shopify: graphql error")
	// ErrUnexpectedStatus indicates a non-success HTTP status.
	ErrUnexpectedStatus = errors.New("shopify: unexpected status")
)

// Config describes the Admin API client.
type Config struct {
	HTTPClient        *http.Client
	APIVersion        string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	// ThrottleThreshold is the remaining query cost below which the client waits for the bucket to refill.
	ThrottleThreshold float64
	// Endpoint overrides the Admin API URL for a shop.
	Endpoint func(shopDomain, apiVersion string) string
	Logger   *zap.Logger
	Sleep    func(ctx context.Context, delay time.Duration) error
}

// Client fetches content pages from Shopify. It satisfies content.Source.
type Client struct {
	httpClient        *http.Client
	apiVersion        string
	requestTimeout    time.Duration
	requestsPerSecond float64
	throttleThreshold float64
	endpoint          func(shopDomain, apiVersion string) string
	logger            *zap.Logger
	sleep             func(ctx context.Context, delay time.Duration) error

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewClient constructs a Client with defaults applied.
func NewClient(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	threshold := cfg.ThrottleThreshold
	if threshold <= 0 {
		threshold = defaultThrottleThreshold
	}
	endpoint := cfg.Endpoint
	if endpoint == nil {
		endpoint = AdminEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		httpClient:        httpClient,
		apiVersion:        apiVersion,
		requestTimeout:    timeout,
		requestsPerSecond: cfg.RequestsPerSecond,
		throttleThreshold: threshold,
		endpoint:          endpoint,
		logger:            logger,
		sleep:             sleep,
		limiters:          make(map[string]*rate.Limiter),
	}
}

// AdminEndpoint returns the Admin GraphQL URL for a shop.
func AdminEndpoint(shopDomain, apiVersion string) string {
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, apiVersion)
}

// FetchPage returns one cursor page of the kind's connection. An empty cursor starts from the beginning.
func (c *Client) FetchPage(ctx context.Context, credential content.Credential, kind content.Kind, cursor string, limit int) (content.Page, error) {
	descriptor := kind.Descriptor()
	if descriptor.Connection == "" {
		return content.Page{}, fmt.Errorf("%w: %q", content.ErrUnknownKind, kind)
	}
	variables := map[string]any{"first": limit}
	if cursor != "" {
		variables["after"] = cursor
	}
	request := graphQLRequest{Query: connectionQuery(descriptor.Connection), Variables: variables}

	var envelope graphQLResponse
	for attempt := 0; ; attempt++ {
		decoded, err := c.execute(ctx, credential, request)
		if err != nil {
			return content.Page{}, err
		}
		envelope = decoded
		if !envelope.throttled() || attempt >= maxThrottleRetries {
			break
		}
		wait := envelope.Extensions.Cost.refillDelay(c.throttleThreshold)
		c.logger.Warn("shopify throttled request, waiting",
			zap.String("shop_domain", credential.ShopDomain),
			zap.String("kind", kind.String()),
			zap.Duration("wait", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return content.Page{}, err
		}
	}

	if len(envelope.Errors) > 0 {
		return content.Page{}, fmt.Errorf("%w: %s", ErrGraphQL, envelope.errorMessages())
	}

	var data connectionData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return content.Page{}, fmt.Errorf("shopify: decode %s connection: %w", descriptor.Connection, err)
	}

	page := content.Page{
		Records:    make([]content.RemoteRecord, 0, len(data.Connection.Edges)),
		HasNext:    data.Connection.PageInfo.HasNextPage,
		NextCursor: data.Connection.PageInfo.EndCursor,
		StoreID:    data.Shop.ID,
	}
	for _, edge := range data.Connection.Edges {
		page.Records = append(page.Records, edge.Node.remoteRecord(data.Shop.ID))
	}

	if wait := envelope.Extensions.Cost.lowBucketDelay(c.throttleThreshold); wait > 0 {
		c.logger.Debug("shopify cost bucket low, pausing",
			zap.String("shop_domain", credential.ShopDomain),
			zap.Duration("wait", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return content.Page{}, err
		}
	}
	return page, nil
}

func (c *Client) execute(ctx context.Context, credential content.Credential, request graphQLRequest) (graphQLResponse, error) {
	if err := c.wait(ctx, credential.ShopDomain); err != nil {
		return graphQLResponse{}, err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return graphQLResponse{}, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint(credential.ShopDomain, c.apiVersion), bytes.NewReader(payload))
	if err != nil {
		return graphQLResponse{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set(accessTokenHeader, credential.AccessToken)

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return graphQLResponse{}, fmt.Errorf("shopify: request failed: %w", err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return graphQLResponse{}, fmt.Errorf("%w: status %d", ErrUnauthorized, response.StatusCode)
	case response.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return graphQLResponse{}, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, response.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return graphQLResponse{}, fmt.Errorf("shopify: decode response: %w", err)
	}
	return envelope, nil
}

func (c *Client) wait(ctx context.Context, shopDomain string) error {
	if c.requestsPerSecond <= 0 {
		return nil
	}
	c.limiterMu.Lock()
	limiter, ok := c.limiters[shopDomain]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.requestsPerSecond), 1)
		c.limiters[shopDomain] = limiter
	}
	c.limiterMu.Unlock()
	return limiter.Wait(ctx)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
