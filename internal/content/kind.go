package content

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the synchronized Shopify content record kinds.
type Kind string

const (
	// KindPages covers online store pages.
	KindPages Kind = "pages"
	// KindArticles covers blog articles.
	KindArticles Kind = "articles"
)

// ErrUnknownKind indicates that a kind string does not name a supported record kind.
var ErrUnknownKind = errors.New("content: unknown record kind")

// KindDescriptor carries everything that differs between record kinds.
// The engine runs one reconciliation shape and reads the per-kind details from here.
type KindDescriptor struct {
	Kind Kind
	// Connection is the GraphQL connection field queried on the Admin API root.
	Connection string
	// GIDResource is the resource segment of Shopify global ids (gid://shopify/<resource>/<id>).
	GIDResource string
	// PropagationPath is the resource segment used by the third-party sink endpoints.
	PropagationPath string
}

var kindDescriptors = map[Kind]KindDescriptor{
	KindPages: {
		Kind:            KindPages,
		Connection:      "pages",
		GIDResource:     "Page",
		PropagationPath: "pages",
	},
	KindArticles: {
		Kind:            KindArticles,
		Connection:      "articles",
		GIDResource:     "Article",
		PropagationPath: "articles",
	},
}

// Kinds lists supported kinds in their initial sync order.
func Kinds() []Kind {
	return []Kind{KindPages, KindArticles}
}

// ParseKind validates raw input and returns the matching Kind.
func ParseKind(rawInput string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := kindDescriptors[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, rawInput)
	}
	return kind, nil
}

// Descriptor returns the kind's descriptor. Unknown kinds yield a zero descriptor.
func (k Kind) Descriptor() KindDescriptor {
	return kindDescriptors[k]
}

// Valid reports whether the kind is supported.
func (k Kind) Valid() bool {
	_, ok := kindDescriptors[k]
	return ok
}

// String returns the underlying kind name.
func (k Kind) String() string {
	return string(k)
}
