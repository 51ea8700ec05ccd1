package utils

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Generates a coarse human readable age, for ex, "3 weeks ago".
func RoundedAge(then time.Time, now time.Time) string {
	if then.After(now) {
		then = now
	}
	return humanize.RelTime(then, now, "ago", "from now")
}

// Formats a byte count using binary prefixes.
func HumanSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

func Decode(text string) string {
	// Stored messages keep their \r\n line endings, bubbletea and SSH
	// misbehave with them in a viewport.
	return strings.ReplaceAll(text, "\r\n", "\n")
}
