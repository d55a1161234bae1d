// Package propagation forwards synchronized records to the chat service that consumes them.
package propagation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aerochat/shopsync/internal/content"
)

const (
	defaultTimeout    = 15 * time.Second
	apiPrefix         = "/chat/api/v1"
	companyLookupPath = apiPrefix + "/get_company_id"
	maxErrorBodyBytes = 1024
)

var (
	// ErrCompanyNotFound indicates the chat service has no company for the store.
	ErrCompanyNotFound = errors.New("propagation: company not found for store")
	// ErrRejected indicates a non-success response from the chat service.
	ErrRejected = errors.New("propagation: request rejected")
)

// Config describes the chat service client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the chat service. It satisfies content.Sink.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient validates the base URL and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("propagation: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, timeout: timeout, httpClient: httpClient}, nil
}

type recordPayload struct {
	ID          string   `json:"id"`
	Title       *string  `json:"title"`
	Handle      *string  `json:"handle"`
	Body        *string  `json:"body"`
	CreatedAt   *string  `json:"created_at"`
	UpdatedAt   *string  `json:"updated_at"`
	PublishedAt *string  `json:"published_at"`
	Published   bool     `json:"published"`
	StoreID     string   `json:"store_id"`
	ChunkIDs    []string `json:"chunk_ids"`
}

type bulkPayload struct {
	CompanyID    string          `json:"company_id"`
	LastSyncTime *string         `json:"last_sync_time"`
	Records      []recordPayload `json:"records"`
}

type deletePayload struct {
	CompanyID string `json:"company_id"`
	ID        string `json:"id"`
}

type companyResponse struct {
	CompanyID json.RawMessage `json:"company_id"`
}

// BulkUpsert sends every record fetched in a pass along with the previous pass's sync time.
func (c *Client) BulkUpsert(ctx context.Context, companyID string, kind content.Kind, records []content.Record, previousSyncTime *time.Time) error {
	payload := bulkPayload{
		CompanyID:    companyID,
		LastSyncTime: content.FormatTimestamp(previousSyncTime),
		Records:      make([]recordPayload, 0, len(records)),
	}
	for _, record := range records {
		chunkIDs := record.ChunkIDs()
		if chunkIDs == nil {
			chunkIDs = []string{}
		}
		payload.Records = append(payload.Records, recordPayload{
			ID:          record.RecordID,
			Title:       record.Title,
			Handle:      record.Handle,
			Body:        record.Body,
			CreatedAt:   content.FormatTimestamp(record.CreatedAt),
			UpdatedAt:   content.FormatTimestamp(record.UpdatedAt),
			PublishedAt: content.FormatTimestamp(record.PublishedAt),
			Published:   record.Published,
			StoreID:     record.StoreID,
			ChunkIDs:    chunkIDs,
		})
	}
	return c.post(ctx, kindPath(kind, "bulk-sync"), payload)
}

// NotifyDelete reports one record removed from the shop.
func (c *Client) NotifyDelete(ctx context.Context, companyID string, kind content.Kind, recordID string) error {
	return c.post(ctx, kindPath(kind, "delete"), deletePayload{CompanyID: companyID, ID: recordID})
}

// LookupCompanyID resolves the chat service company for a shop domain.
func (c *Client) LookupCompanyID(ctx context.Context, shopDomain string) (string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("store_url", shopDomain)
	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, c.baseURL+companyLookupPath+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("propagation: company lookup: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return "", ErrCompanyNotFound
	}
	if response.StatusCode != http.StatusOK {
		return "", rejection(response)
	}

	var decoded companyResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("propagation: decode company lookup: %w", err)
	}
	companyID := rawScalar(decoded.CompanyID)
	if companyID == "" {
		return "", ErrCompanyNotFound
	}
	return companyID, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("propagation: post %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return rejection(response)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func kindPath(kind content.Kind, action string) string {
	return fmt.Sprintf("%s/shopify/%s/%s", apiPrefix, kind.Descriptor().PropagationPath, action)
}

func rejection(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return fmt.Errorf("%w: %d: %s", ErrRejected, response.StatusCode, strings.TrimSpace(string(body)))
}

// rawScalar accepts company ids sent as JSON strings or numbers.
func rawScalar(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}
