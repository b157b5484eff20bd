package logger

import (
	"encoding/json"
	"fmt"
	"strings"
)

type MaskingType string

const (
	MaskingTypeFull    MaskingType = "full"    // "***"
	MaskingTypePartial MaskingType = "partial" // "e*******n"
	MaskingTypeTail    MaskingType = "tail"    // keeps the last 6 characters, e.g. for token fingerprints
)

type MaskingRule struct {
	Field   string // dot path, e.g. "body.token" or "keys.*.n"
	Type    MaskingType
	IsArray bool // mask every element when the field is an array
}

// MaskData returns a masked copy of data. The input is never modified.
func MaskData(data any, rules []MaskingRule) any {
	if len(rules) == 0 {
		return data
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var dataMap map[string]any
	if err := json.Unmarshal(jsonBytes, &dataMap); err != nil {
		return data
	}

	for _, rule := range rules {
		maskPath(dataMap, strings.Split(rule.Field, "."), rule.Type, rule.IsArray)
	}
	return dataMap
}

func maskPath(data any, parts []string, maskType MaskingType, isArray bool) {
	if len(parts) == 0 {
		return
	}
	head, rest := parts[0], parts[1:]

	switch v := data.(type) {
	case map[string]any:
		keys := []string{head}
		if head == "*" {
			keys = keys[:0]
			for k := range v {
				keys = append(keys, k)
			}
		}
		for _, k := range keys {
			val, ok := v[k]
			if !ok {
				continue
			}
			if len(rest) > 0 {
				maskPath(val, rest, maskType, isArray)
				continue
			}
			if arr, ok := val.([]any); ok && isArray {
				for i := range arr {
					arr[i] = maskValue(arr[i], maskType)
				}
				continue
			}
			v[k] = maskValue(val, maskType)
		}
	case []any:
		for i := range v {
			maskPath(v[i], parts, maskType, isArray)
		}
	}
}

func maskValue(value any, maskType MaskingType) any {
	s, ok := value.(string)
	if !ok {
		if value == nil {
			return value
		}
		s = fmt.Sprint(value)
	}
	if s == "" {
		return value
	}

	switch maskType {
	case MaskingTypePartial:
		return maskPartial(s)
	case MaskingTypeTail:
		if len(s) <= 6 {
			return "***"
		}
		return "***" + s[len(s)-6:]
	default:
		return "***"
	}
}

func maskPartial(s string) string {
	switch n := len(s); {
	case n <= 3:
		return "***"
	case n <= 6:
		return s[:1] + "***"
	default:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	}
}
