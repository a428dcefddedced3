package domain

import "strings"

// NormalizeLabel lowercases and trims a single label
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// NormalizeLabels converts a decoded JSON label list into plain strings.
// Ticket sources deliver labels either as bare strings or as richer
// records like {"name": "bug", "color": "d73a4a"}; anything else is
// dropped rather than leaking a placeholder into rendered prompts.
func NormalizeLabels(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]string); ok {
			out := make([]string, 0, len(typed))
			for _, l := range typed {
				if n := NormalizeLabel(l); n != "" {
					out = append(out, n)
				}
			}
			return out
		}
		return nil
	}

	var out []string
	for _, entry := range list {
		switch v := entry.(type) {
		case string:
			if n := NormalizeLabel(v); n != "" {
				out = append(out, n)
			}
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				if n := NormalizeLabel(name); n != "" {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// HasLabel reports whether the label set contains target (case-insensitive)
func HasLabel(labels []string, target string) bool {
	want := NormalizeLabel(target)
	for _, l := range labels {
		if NormalizeLabel(l) == want {
			return true
		}
	}
	return false
}
