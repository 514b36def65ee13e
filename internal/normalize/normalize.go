package normalize

import "strings"

// Language returns a normalized language code suitable for storage and
// comparisons: surrounding whitespace trimmed, lower-cased, and region
// separators unified to "-" ("en_US" -> "en-us").
func Language(code string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
}

// ID trims whitespace around a document id taken from user input.
func ID(id string) string {
	return strings.TrimSpace(id)
}
