package sheets

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/teemow/sheetsproxy/internal/apierror"
)

// Args are the decoded arguments of one call.
type Args map[string]any

// String returns a string argument, or "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Bool accepts a JSON boolean or its string form from a query string.
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Strings accepts an array of strings or a comma-separated string.
func (a Args) Strings(key string) []string {
	var out []string
	switch v := a[key].(type) {
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Int64 accepts a JSON number or a decimal string.
func (a Args) Int64(key string) (int64, bool) {
	switch v := a[key].(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Decode re-encodes the argument into out, typically a Sheets API struct.
func (a Args) Decode(key string, out any) error {
	raw, err := json.Marshal(a[key])
	if err != nil {
		return apierror.Wrap(apierror.InvalidArgument, "Invalid parameter: "+key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apierror.Wrap(apierror.InvalidArgument, "Invalid parameter: "+key, err)
	}
	return nil
}

func isArray(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	default:
		return false
	}
}

// isMatrix reports whether v is an array whose items are all arrays.
func isMatrix(v any) bool {
	rows, ok := v.([]any)
	if !ok {
		return false
	}
	for _, row := range rows {
		if _, ok := row.([]any); !ok {
			return false
		}
	}
	return true
}

func missing(name string) error {
	return apierror.New(apierror.InvalidArgument, "Missing required parameter: "+name)
}

func invalid(name, must string) error {
	return apierror.New(apierror.InvalidArgument,
		fmt.Sprintf("Missing or invalid required parameter: %s (must be %s)", name, must))
}
