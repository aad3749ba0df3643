package normalize

import (
	"regexp"
	"strings"
	"time"
)

// CanonicalTimeLayout is the zone-free layout stored in the catalog. Fixed
// width keeps lexical and chronological order identical.
const CanonicalTimeLayout = "2006-01-02T15:04:05.000000"

var zoneSuffix = regexp.MustCompile(`(Z|[+-]\d\d:?(\d\d)?)$`)

var inputLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp strips any zone designator and renders the value in
// CanonicalTimeLayout. Values that do not parse are returned stripped.
func Timestamp(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	sep := strings.IndexAny(value, "T ")
	if sep < 0 {
		return value
	}
	stripped := value[:sep] + zoneSuffix.ReplaceAllString(value[sep:], "")

	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, stripped); err == nil {
			return t.Format(CanonicalTimeLayout)
		}
	}
	return stripped
}

// FormatTime renders t without zone information.
func FormatTime(t time.Time) string {
	return t.Format(CanonicalTimeLayout)
}
