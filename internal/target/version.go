package target

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// canonicalVersion accepts "1.2.0" or "v1.2.0" and returns the semver form
// used for comparison.
func canonicalVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", apperrors.New(apperrors.CodeInvalidVersion, "version is required")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidVersion,
			fmt.Sprintf("invalid version %q", strings.TrimPrefix(v, "v")),
			map[string]string{"version": v})
	}
	return v, nil
}

// ValidVersion reports whether v is a semantic version, with or without a
// leading "v".
func ValidVersion(v string) bool {
	_, err := canonicalVersion(v)
	return err == nil
}

// CompareVersions returns -1, 0 or +1 comparing a and b.
func CompareVersions(a, b string) (int, error) {
	ca, err := canonicalVersion(a)
	if err != nil {
		return 0, err
	}
	cb, err := canonicalVersion(b)
	if err != nil {
		return 0, err
	}
	return semver.Compare(ca, cb), nil
}
