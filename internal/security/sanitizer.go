// Package security holds the HTML and outbound request guards used around Shopify content.
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// BodySanitizer strips scripts, event handlers and unsafe URLs from page and article bodies.
// Structural markup (headings, lists, tables, images) survives so the indexer still sees the document shape.
type BodySanitizer struct {
	policy *bluemonday.Policy
}

// NewBodySanitizer builds the sanitizer on top of bluemonday's user generated content policy.
func NewBodySanitizer() *BodySanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowURLSchemes("https", "http", "mailto")
	policy.RequireNoReferrerOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.AllowAttrs("class").OnElements("div", "span", "p")
	return &BodySanitizer{policy: policy}
}

// Sanitize returns the cleaned HTML. Empty input stays empty.
func (s *BodySanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
