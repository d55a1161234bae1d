package shopify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aerochat/shopsync/internal/content"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     []graphQLError  `json:"errors"`
	Extensions struct {
		Cost queryCost `json:"cost"`
	} `json:"extensions"`
}

type queryCost struct {
	RequestedQueryCost float64 `json:"requestedQueryCost"`
	ThrottleStatus     struct {
		MaximumAvailable   float64 `json:"maximumAvailable"`
		CurrentlyAvailable float64 `json:"currentlyAvailable"`
		RestoreRate        float64 `json:"restoreRate"`
	} `json:"throttleStatus"`
}

type connectionData struct {
	Connection struct {
		Edges []struct {
			Cursor string `json:"cursor"`
			Node   node   `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"connection"`
	Shop struct {
		ID string `json:"id"`
	} `json:"shop"`
}

type node struct {
	ID          string  `json:"id"`
	Title       *string `json:"title"`
	Handle      *string `json:"handle"`
	Body        *string `json:"body"`
	CreatedAt   *string `json:"createdAt"`
	UpdatedAt   *string `json:"updatedAt"`
	PublishedAt *string `json:"publishedAt"`
}

// connectionQuery aliases the kind's connection to "connection" so one decoder serves every kind.
func connectionQuery(connection string) string {
	return fmt.Sprintf(`query fetchContent($first: Int!, $after: String) {
  connection: %s(first: $first, after: $after) {
    edges {
      cursor
      node {
        id
        title
        handle
        body
        createdAt
        updatedAt
        publishedAt
      }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
  shop { id }
}`, connection)
}

func (n node) remoteRecord(storeID string) content.RemoteRecord {
	record := content.RemoteRecord{
		ID:      n.ID,
		Title:   n.Title,
		Handle:  n.Handle,
		Body:    n.Body,
		StoreID: storeID,
	}
	if n.CreatedAt != nil {
		record.CreatedAt = *n.CreatedAt
	}
	if n.UpdatedAt != nil {
		record.UpdatedAt = *n.UpdatedAt
	}
	if n.PublishedAt != nil {
		record.PublishedAt = *n.PublishedAt
	}
	return record
}

func (r graphQLResponse) throttled() bool {
	for _, gqlErr := range r.Errors {
		if gqlErr.Extensions.Code == throttledCode {
			return true
		}
	}
	return false
}

func (r graphQLResponse) errorMessages() string {
	messages := make([]string, 0, len(r.Errors))
	for _, gqlErr := range r.Errors {
		messages = append(messages, gqlErr.Message)
	}
	return strings.Join(messages, "; ")
}

// refillDelay is how long the bucket needs to regain the threshold, or one second when the rate is unknown.
func (c queryCost) refillDelay(threshold float64) time.Duration {
	restoreRate := c.ThrottleStatus.RestoreRate
	if restoreRate <= 0 {
		return time.Second
	}
	needed := max(threshold, c.RequestedQueryCost) - c.ThrottleStatus.CurrentlyAvailable
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / restoreRate * float64(time.Second))
}

// lowBucketDelay returns a pause when a successful response left the bucket under the threshold.
func (c queryCost) lowBucketDelay(threshold float64) time.Duration {
	if c.ThrottleStatus.RestoreRate <= 0 || c.ThrottleStatus.MaximumAvailable <= 0 {
		return 0
	}
	if c.ThrottleStatus.CurrentlyAvailable >= threshold {
		return 0
	}
	return c.refillDelay(threshold)
}
