package agent

import (
	"regexp"
	"strings"
)

var suggestPattern = regexp.MustCompile(`(?i)\[SUGGEST:\s*([\s\S]*?)\]`)

// ExtractSuggestions removes the first [SUGGEST: a; b; c] marker from
// text and returns the cleaned text with the trimmed, non-empty
// suggestions. Text without a marker is returned unchanged with no
// suggestions.
func ExtractSuggestions(text string) (string, []string) {
	loc := suggestPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, []string{}
	}

	suggestions := []string{}
	for _, s := range strings.Split(text[loc[2]:loc[3]], ";") {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	cleaned := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return cleaned, suggestions
}
