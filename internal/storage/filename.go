package storage

import (
	"regexp"
	"strings"
)

var (
	// The escape character itself goes first so the mapping stays one
	// to one, distinct names never share a directory.
	reservedName = strings.NewReplacer(
		"%", "%25",
		"/", "%2F",
		"\\", "%5C",
		".", "%2E",
		"~", "%7E",
	)
	unsafeName = regexp.MustCompile(`[^-\w.@+=()\[\]]`)
)

// Makes a name usable as a single directory entry by percent escaping
// path separators, dots and tildes. An empty name becomes a lone "%",
// which no other name escapes to.
func CleanFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "%"
	}
	return reservedName.Replace(name)
}

// Sanitizes an attachment filename while keeping its extension. Leading
// dots are dropped so the result is never hidden or a parent reference.
func ValidFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = unsafeName.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "unnamed"
	}
	return name
}
