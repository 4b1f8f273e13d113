// Package updates decides whether a newer release of the licensed product is
// available and records it in the host's update registry.
package updates

import (
	"strconv"
	"strings"
)

// normalizeVersion removes whitespace and a 'v' prefix.
func normalizeVersion(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}

// CompareVersions compares two dotted version strings segment by segment
// numerically. Missing segments count as zero, so "1.2" equals "1.2.0". A
// pre-release suffix ("-beta.2") sorts before the same release. It returns -1,
// 0 or 1.
func CompareVersions(a, b string) int {
	aCore, aPre := splitVersion(normalizeVersion(a))
	bCore, bPre := splitVersion(normalizeVersion(b))

	aParts := parseSegments(aCore)
	bParts := parseSegments(bCore)

	n := len(aParts)
	if len(bParts) > n {
		n = len(bParts)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(aParts) {
			x = aParts[i]
		}
		if i < len(bParts) {
			y = bParts[i]
		}
		if x > y {
			return 1
		}
		if x < y {
			return -1
		}
	}

	switch {
	case aPre == bPre:
		return 0
	case aPre == "":
		return 1
	case bPre == "":
		return -1
	default:
		return comparePreRelease(aPre, bPre)
	}
}

// comparePreRelease orders dot separated pre-release identifiers: numeric
// identifiers compare as numbers and sort before alphanumeric ones, which
// compare as strings. A longer list wins when one is a prefix of the other,
// so "alpha" < "alpha.1" and "beta.2" < "beta.10".
func comparePreRelease(a, b string) int {
	aIDs := strings.Split(a, ".")
	bIDs := strings.Split(b, ".")

	for i := 0; i < len(aIDs) && i < len(bIDs); i++ {
		x, xErr := strconv.ParseUint(aIDs[i], 10, 64)
		y, yErr := strconv.ParseUint(bIDs[i], 10, 64)
		switch {
		case xErr == nil && yErr == nil:
			if x != y {
				if x > y {
					return 1
				}
				return -1
			}
		case xErr == nil:
			return -1
		case yErr == nil:
			return 1
		default:
			if c := strings.Compare(aIDs[i], bIDs[i]); c != 0 {
				return c
			}
		}
	}

	switch {
	case len(aIDs) > len(bIDs):
		return 1
	case len(aIDs) < len(bIDs):
		return -1
	default:
		return 0
	}
}

// IsNewerVersion reports whether latest is strictly newer than current.
// A development build ("dev" or empty) is older than any release.
func IsNewerVersion(latest, current string) bool {
	latest = normalizeVersion(latest)
	current = normalizeVersion(current)

	if latest == "dev" || latest == "" {
		return false
	}
	if current == "dev" || current == "" {
		return true
	}
	return CompareVersions(latest, current) > 0
}

// splitVersion separates the dotted core from a pre-release suffix and drops
// build metadata.
func splitVersion(version string) (core, pre string) {
	if idx := strings.IndexByte(version, '+'); idx != -1 {
		version = version[:idx]
	}
	if idx := strings.IndexByte(version, '-'); idx != -1 {
		return version[:idx], version[idx+1:]
	}
	return version, ""
}

// parseSegments parses the leading digits of every dot separated segment.
func parseSegments(core string) []int {
	if core == "" {
		return nil
	}
	segments := strings.Split(core, ".")
	parts := make([]int, len(segments))
	for i, seg := range segments {
		end := 0
		for end < len(seg) && seg[end] >= '0' && seg[end] <= '9' {
			end++
		}
		parts[i], _ = strconv.Atoi(seg[:end])
	}
	return parts
}
