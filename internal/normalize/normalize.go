// Package normalize holds the field-level cleanup rules shared by every
// upstream normalizer.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

const resourceIDWidth = 7

var (
	disallowedTagChars  = regexp.MustCompile(`[^a-zA-Z0-9 _.\-]+`)
	disallowedSlugChars = regexp.MustCompile(`[^0-9a-zA-Z _-]+`)
	repeatedSpace       = regexp.MustCompile(`\s{2,}`)
	orgNamePattern      = regexp.MustCompile(`^[a-z0-9_-]{2,100}$`)
)

// Tag deletes every character outside the catalog tag alphabet.
func Tag(value string) string {
	return disallowedTagChars.ReplaceAllString(value, "")
}

// Tags sanitizes every tag and drops the ones left empty.
func Tags(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		clean := Tag(v)
		if strings.TrimSpace(clean) == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// Email trims the address and percent-encodes it, keeping '@' literal.
func Email(value string) string {
	return Quote(strings.TrimSpace(value), "@")
}

// Quote percent-encodes every byte outside the unreserved set and safe.
func Quote(value, safe string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-' || c == '~':
		return true
	}
	return false
}

// ValidOrgName reports whether name is an acceptable organization slug.
func ValidOrgName(name string) bool {
	return orgNamePattern.MatchString(name)
}

// Slug turns free text into a lower-case dash-separated identifier.
func Slug(value string) string {
	out := disallowedSlugChars.ReplaceAllString(value, "")
	out = repeatedSpace.ReplaceAllString(out, " ")
	out = strings.ReplaceAll(out, " ", "-")
	return strings.ToLower(out)
}

// ResourceID left-pads short ids with zeros.
func ResourceID(id string) string {
	if len(id) >= resourceIDWidth {
		return id
	}
	return strings.Repeat("0", resourceIDWidth-len(id)) + id
}

// DateOnly keeps the date part of an ISO timestamp.
func DateOnly(value string) string {
	if len(value) <= 10 {
		return value
	}
	return value[:10]
}

// StorageRewrite maps a broken storage prefix to a public download base.
type StorageRewrite struct {
	Prefix string
	Base   string
}

// DefaultStorageRewrite covers the DataPress deployment whose S3 bucket
// links stopped resolving publicly.
var DefaultStorageRewrite = StorageRewrite{
	Prefix: "https://airdrive-secure.s3-eu-west-1",
	Base:   "https://data.london.gov.uk/download",
}

// Apply returns the stable download URL for a resource when rawURL starts
// with the broken prefix, otherwise rawURL unchanged.
func (r StorageRewrite) Apply(rawURL, datasetName, resourceID, resourceName, format string) string {
	if r.Prefix == "" || !strings.HasPrefix(rawURL, r.Prefix) {
		return rawURL
	}
	return fmt.Sprintf("%s/%s/%s/%s.%s",
		strings.TrimSuffix(r.Base, "/"),
		datasetName,
		resourceID,
		Quote(resourceName, "/"),
		format)
}
