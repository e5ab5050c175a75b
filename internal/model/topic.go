package model

import (
	"fmt"
	"strings"
	"time"
)

const topicSeparator = ".@"

// ExtractDialogTitle returns the part of a dialog topic before the first
// ".@" marker. A nil topic has no title.
func ExtractDialogTitle(topic *string) string {
	if topic == nil {
		return "No Title"
	}
	title, _, _ := strings.Cut(*topic, topicSeparator)
	return title
}

// ExtractDialogDate renders the "<YYYYMMDD>_<HH:MM[:SS]>" suffix of a topic as
// "DD/MM/YYYY à HHhMM". Topics without a suffix yield "".
func ExtractDialogDate(topic *string) string {
	if topic == nil {
		return ""
	}
	_, rest, found := strings.Cut(*topic, topicSeparator)
	if !found {
		return ""
	}
	raw, _, _ := strings.Cut(rest, topicSeparator)
	if raw == "" {
		return ""
	}

	dateStr, timeStr, hasTime := strings.Cut(raw, "_")
	date := fmt.Sprintf("%s/%s/%s", span(dateStr, 6, 8), span(dateStr, 4, 6), span(dateStr, 0, 4))
	if !hasTime {
		return date
	}
	return fmt.Sprintf("%s à %sh%s", date, span(timeStr, 0, 2), span(timeStr, 3, 5))
}

// FormatTimestamp renders a message timestamp as "DD/MM/YY @HHhMM". Unparseable
// input is returned unchanged.
func FormatTimestamp(ts string) string {
	t, ok := ParseTimestamp(ts)
	if !ok {
		return ts
	}
	return t.Format("02/01/06 @15h04")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses the ISO timestamps the server emits. Zone-less values
// are read as UTC.
func ParseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// span is a bounds-tolerant s[i:j].
func span(s string, i, j int) string {
	if i > len(s) {
		return ""
	}
	if j > len(s) {
		j = len(s)
	}
	return s[i:j]
}
