// internal/inventory/tag.go
package inventory

import (
	"regexp"
	"strings"

	"hdlend/internal/errs"
)

var tagPattern = regexp.MustCompile(`^[0-9A-F]{8,24}$`)

// NormalizeTag canonicalizes a unit tag to uppercase and validates it as an
// 8 to 24 character hexadecimal string.
func NormalizeTag(raw string) (string, error) {
	tag := strings.ToUpper(strings.TrimSpace(raw))
	if !tagPattern.MatchString(tag) {
		return "", errs.Validationf("tag %q must be a hexadecimal string between 8 and 24 characters", raw)
	}
	return tag, nil
}
