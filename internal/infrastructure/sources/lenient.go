package sources

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// looseString decodes any JSON scalar into its text form. Numbers and
// booleans keep their literal spelling; null becomes empty.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = looseString(stringValue(v))
	return nil
}

// looseBool accepts booleans, their string spellings and numbers.
// Anything else reads as false.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case bool:
		*b = looseBool(val)
	case float64:
		*b = val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "y":
			*b = true
		default:
			parsed, _ := strconv.ParseBool(strings.TrimSpace(val))
			*b = looseBool(parsed)
		}
	default:
		*b = false
	}
	return nil
}

// decodeRecords unmarshals each raw record on its own. A record that does
// not decode is skipped with a diagnostic instead of failing the batch.
func decodeRecords[T any](raw []json.RawMessage) ([]T, []string) {
	out := make([]T, 0, len(raw))
	var diagnostics []string
	for i, item := range raw {
		var rec T
		if err := json.Unmarshal(item, &rec); err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("record %s skipped: %v", recordRef(i, item), err))
			continue
		}
		out = append(out, rec)
	}
	return out, diagnostics
}

// recordRef names a raw record by its id when one can be read, else by
// its position in the batch.
func recordRef(i int, item json.RawMessage) string {
	var ref struct {
		ID       looseString `json:"id"`
		Resource struct {
			ID looseString `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(item, &ref); err == nil {
		if ref.ID != "" {
			return strconv.Quote(string(ref.ID))
		}
		if ref.Resource.ID != "" {
			return strconv.Quote(string(ref.Resource.ID))
		}
	}
	return "#" + strconv.Itoa(i)
}
