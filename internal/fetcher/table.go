package fetcher

import "strings"

// Header maps normalized column names to their position. Exports disagree
// on case, padding and a leading UTF-8 BOM, so names are lowercased and
// trimmed. A repeated name keeps its first position.
type Header map[string]int

// NewHeader indexes a header row.
func NewHeader(names []string) Header {
	h := make(Header, len(names))
	for i, n := range names {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(n, "\ufeff")))
		if key == "" {
			continue
		}
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

// Get returns the trimmed value of the first alias the header knows.
// Missing columns and short rows yield "".
func (h Header) Get(row []string, aliases ...string) string {
	for _, a := range aliases {
		if i, ok := h[a]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}
