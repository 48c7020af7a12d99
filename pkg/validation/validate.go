// Package validation checks message payloads before any write happens,
// so a rejected send never leaves a partial record behind.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"eventsnap/pkg/models"
)

// Limits bounds message content by type.
type Limits struct {
	MaxText     int
	MaxImageRef int
	MaxSystem   int
}

// DefaultLimits returns the stock content bounds.
func DefaultLimits() Limits {
	return Limits{MaxText: 1000, MaxImageRef: 1000, MaxSystem: 500}
}

// CheckContent validates content for the given message type. The returned
// error lists every problem found; callers wrap it into their own error
// taxonomy.
func CheckContent(t models.MessageType, content string, l Limits) error {
	var errs []string
	if strings.TrimSpace(content) == "" {
		errs = append(errs, "content is required")
	}
	switch t {
	case models.TypeText:
		if len(content) > l.MaxText {
			errs = append(errs, fmt.Sprintf("content too long: %d > %d", len(content), l.MaxText))
		}
	case models.TypeImage:
		if len(content) > l.MaxImageRef {
			errs = append(errs, fmt.Sprintf("image reference too long: %d > %d", len(content), l.MaxImageRef))
		}
		if content != "" && !wellFormedRef(content) {
			errs = append(errs, "image reference is not a valid http(s) URL")
		}
	case models.TypeSystem:
		if len(content) > l.MaxSystem {
			errs = append(errs, fmt.Sprintf("content too long: %d > %d", len(content), l.MaxSystem))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown message type %q", t))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// wellFormedRef reports whether s parses as an absolute http(s) URL.
// Image messages carry a reference produced by the blob store; this core
// never uploads binaries itself.
func wellFormedRef(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
