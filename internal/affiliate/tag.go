package affiliate

import (
	"fmt"
	"regexp"
)

// tagPattern is the associate-tag grammar: alphanumeric/dot segments joined
// by hyphens, terminated by a numeric suffix (e.g. promozone.stories-20).
var tagPattern = regexp.MustCompile(`^[A-Za-z0-9.]+(-[A-Za-z0-9.]+)*-\d+$`)

// Tag is a validated affiliate tracking tag. A Tag is immutable; converters
// accept it at construction time only.
type Tag string

// ParseTag validates s against the tag grammar. Malformed tags are rejected
// here so a misconfigured deployment fails at startup, never mid-request.
func ParseTag(s string) (Tag, error) {
	if !tagPattern.MatchString(s) {
		return "", fmt.Errorf("malformed affiliate tag %q: expected segments like name-tag-20", s)
	}
	return Tag(s), nil
}

func (t Tag) String() string {
	return string(t)
}
