package tooling

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/xray-tool-bridge/core/internal/jsonutil"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

// JSONArg accepts a "structured JSON" tool argument in either form a
// client may send it: an already-parsed JSON object, or a string
// containing JSON-encoded text. Map decodes whichever form was given.
type JSONArg struct {
	raw jsonutil.RawMessage
}

// UnmarshalJSON stores the argument's raw bytes as given; decoding to
// a map is deferred to Map so parse errors surface as ValidationError
// rather than a generic decode failure at the facade boundary.
func (j *JSONArg) UnmarshalJSON(data []byte) error {
	j.raw = append(jsonutil.RawMessage(nil), data...)
	return nil
}

// Map decodes the argument to a map, parsing a string-encoded form if
// that is what was supplied.
func (j JSONArg) Map() (map[string]any, error) {
	if len(j.raw) == 0 || string(j.raw) == "null" {
		return nil, nil
	}

	var asString string
	if err := jsonutil.Unmarshal(j.raw, &asString); err == nil {
		var nested map[string]any
		if err := jsonutil.Unmarshal([]byte(asString), &nested); err != nil {
			return nil, &xrayerrors.ValidationError{Field: "jira_fields", Reason: fmt.Sprintf("malformed JSON string argument: %v", err)}
		}
		return nested, nil
	}

	var parsed map[string]any
	if err := jsonutil.Unmarshal(j.raw, &parsed); err != nil {
		return nil, &xrayerrors.ValidationError{Field: "jira_fields", Reason: fmt.Sprintf("malformed JSON argument: %v", err)}
	}
	return parsed, nil
}

// jsonArgFromAny re-encodes a value already decoded into map[string]any
// (the shape tool.Run arguments arrive in) so it can be routed through
// JSONArg.Map's single decoding path.
func jsonArgFromAny(v any) (JSONArg, error) {
	raw, err := jsonutil.Marshal(v)
	if err != nil {
		return JSONArg{}, &xrayerrors.ValidationError{Field: "jira_fields", Reason: err.Error()}
	}
	return JSONArg{raw: raw}, nil
}

const (
	minLimit     = 1
	maxLimit     = 100
	defaultLimit = 50
)

// clampLimit coerces v (which may be a string, float64, or int as a
// result of JSON decoding) to an int and clamps it to [minLimit, maxLimit].
// A missing or unparseable value falls back to defaultLimit.
func clampLimit(v any) int {
	if v == nil {
		return defaultLimit
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultLimit
	}
	if n < minLimit {
		return minLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", &xrayerrors.ValidationError{Field: name, Reason: "required argument is missing"}
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", &xrayerrors.ValidationError{Field: name, Reason: "must be a string"}
	}
	return s, nil
}

func stringSliceArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok {
		return nil, &xrayerrors.ValidationError{Field: name, Reason: "required argument is missing"}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &xrayerrors.ValidationError{Field: name, Reason: "must be a list of strings"}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, &xrayerrors.ValidationError{Field: name, Reason: "must be a list of strings"}
		}
		out = append(out, s)
	}
	return out, nil
}
