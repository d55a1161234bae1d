package content

import (
	"encoding/json"
	"testing"
)

func TestNormalizeRecordID(t *testing.T) {
	testCases := []struct {
		name  string
		kind  Kind
		input any
		want  string
	}{
		{name: "int", kind: KindPages, input: 12345, want: "12345"},
		{name: "int64", kind: KindPages, input: int64(9007199254740993), want: "9007199254740993"},
		{name: "uint64", kind: KindPages, input: uint64(18446744073709551615), want: "18446744073709551615"},
		{name: "integral float", kind: KindPages, input: 12345.0, want: "12345"},
		{name: "fractional float", kind: KindPages, input: 12.5, want: "12.5"},
		{name: "string", kind: KindPages, input: "12345", want: "12345"},
		{name: "padded string", kind: KindPages, input: "  12345 ", want: "12345"},
		{name: "decimal string", kind: KindPages, input: "12345.0", want: "12345"},
		{name: "large decimal string", kind: KindPages, input: "123456789012345678901.00", want: "123456789012345678901"},
		{name: "json number", kind: KindArticles, input: json.Number("77"), want: "77"},
		{name: "page gid", kind: KindPages, input: "gid://shopify/Page/12345", want: "12345"},
		{name: "article gid", kind: KindArticles, input: "gid://shopify/Article/88", want: "88"},
		{name: "gid with query", kind: KindPages, input: "gid://shopify/Page/12345?version=2", want: "12345"},
		{name: "foreign gid", kind: KindPages, input: "gid://shopify/Article/12345", want: "gid://shopify/Article/12345"},
		{name: "opaque string", kind: KindPages, input: "about-us", want: "about-us"},
		{name: "empty string", kind: KindPages, input: "   ", want: ""},
		{name: "nil", kind: KindPages, input: nil, want: ""},
		{name: "unsupported", kind: KindPages, input: []int{1}, want: ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := NormalizeRecordID(testCase.kind, testCase.input)
			if got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind(" Pages ")
	if err != nil || kind != KindPages {
		t.Fatalf("expected pages kind, got %q (%v)", kind, err)
	}
	if _, err := ParseKind("products"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if KindArticles.Descriptor().GIDResource != "Article" {
		t.Fatalf("unexpected article descriptor: %+v", KindArticles.Descriptor())
	}
}
