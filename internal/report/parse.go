package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

// Parsed is provider output ready to store.
type Parsed struct {
	Payload  json.RawMessage
	Degraded bool
}

// Parse extracts the JSON object from model output. Output that carries no
// parseable object is kept as {"raw_text": ...} and flagged degraded: the
// provider did the work, so the report still completes. Blank output is an
// error.
func Parse(text string) (Parsed, error) {
	cleaned := stripFences(strings.TrimSpace(text))
	if cleaned == "" {
		return Parsed{}, domain.ErrEmptyOutput
	}

	if obj, ok := asObject(cleaned); ok {
		return Parsed{Payload: obj}, nil
	}
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		if obj, ok := asObject(cleaned[start : end+1]); ok {
			return Parsed{Payload: obj}, nil
		}
	}

	raw, err := json.Marshal(map[string]string{"raw_text": strings.TrimSpace(text)})
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %v", domain.ErrMalformedOutput, err)
	}
	return Parsed{Payload: raw, Degraded: true}, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// opening fence, with optional language tag
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func asObject(s string) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return json.RawMessage(s), true
}
