package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	objectNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9.]`)
	storagePathValid = regexp.MustCompile(`^[a-zA-Z0-9_-]+(/[a-zA-Z0-9_-]+)*$`)
)

// ObjectName makes a client file name safe for use inside an object key.
// Every character other than ASCII letters, digits and '.' becomes '_'.
func ObjectName(filename string) string {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "file"
	}
	return objectNameUnsafe.ReplaceAllString(filename, "_")
}

// ValidStoragePath reports whether path is a relative, traversal-free
// folder prefix such as "chat/images" or "statuses".
func ValidStoragePath(path string) bool {
	if path == "" || len(path) > 200 {
		return false
	}
	return storagePathValid.MatchString(path)
}

// DisplayName trims a user-supplied name, drops control characters and
// caps its length in runes.
func DisplayName(name string, maxLen int) string {
	name = strings.TrimSpace(StripControlCharacters(name))
	if utf8.RuneCountInString(name) > maxLen {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:maxLen]))
	}
	return name
}

// MessageText removes control characters other than newlines and tabs
func MessageText(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
