package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON returns the first JSON object in text, tolerating markdown
// fences and prose around it.
func ExtractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON decodes the first JSON object of c into out. A reply cut off at
// the token limit is reported as such rather than as malformed JSON.
func DecodeJSON(c *Completion, out any) error {
	raw, ok := ExtractJSON(c.Text)
	if !ok {
		if c.Truncated() {
			return eris.New("anthropic: reply truncated at max tokens")
		}
		return eris.New("anthropic: no json object in reply")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return eris.Wrap(err, "anthropic: decode json")
	}
	return nil
}
