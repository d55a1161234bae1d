package content

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const gidPrefix = "gid://shopify/"

// NormalizeRecordID coerces a remote identifier into its canonical string form.
//
// Numeric ids, their string spelling and Shopify global ids of the same resource all map to
// the bare decimal id so membership diffing never sees two spellings of one record.
// An empty string is returned for values that carry no usable identifier.
func NormalizeRecordID(kind Kind, raw any) string {
	switch value := raw.(type) {
	case nil:
		return ""
	case string:
		return normalizeStringID(kind, value)
	case json.Number:
		return normalizeStringID(kind, value.String())
	case int:
		return strconv.FormatInt(int64(value), 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case float64:
		return formatFloatID(value)
	case float32:
		return formatFloatID(float64(value))
	default:
		return ""
	}
}

func normalizeStringID(kind Kind, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, gidPrefix) {
		return normalizeGID(kind, trimmed)
	}
	if integer, fraction, found := strings.Cut(trimmed, "."); found && isDigits(integer) && strings.Trim(fraction, "0") == "" {
		return integer
	}
	return trimmed
}

// normalizeGID strips gid://shopify/<Resource>/ when the resource matches the kind.
// Query suffixes such as ?version=2 are dropped. Foreign resources keep their full gid.
func normalizeGID(kind Kind, gid string) string {
	path := strings.TrimPrefix(gid, gidPrefix)
	if index := strings.IndexByte(path, '?'); index >= 0 {
		path = path[:index]
	}
	segments := strings.Split(path, "/")
	if len(segments) != 2 {
		return gid
	}
	resource := kind.Descriptor().GIDResource
	if resource == "" || segments[0] != resource || segments[1] == "" {
		return gid
	}
	return segments[1]
}

func formatFloatID(value float64) string {
	if !isIntegral(value) {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return strconv.FormatFloat(value, 'f', 0, 64)
}

func isIntegral(value float64) bool {
	return !math.IsInf(value, 0) && !math.IsNaN(value) && value == math.Trunc(value)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
