package mcp

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// LatestProtocolVersion is the latest version of the protocol.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists every protocol revision this server speaks,
// oldest first.
var SupportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	LatestProtocolVersion,
}

// ErrUnsupportedProtocolVersion is returned by NegotiateProtocolVersion when
// the requested version cannot be served.
var ErrUnsupportedProtocolVersion = errors.New("unsupported protocol version")

const versionLayout = "2006-01-02"

// IsSupportedProtocolVersion reports whether v is one of
// SupportedProtocolVersions.
func IsSupportedProtocolVersion(v string) bool {
	return slices.Contains(SupportedProtocolVersions, v)
}

// NegotiateProtocolVersion picks the revision to use for a client that
// requested v.
//
// Revisions are dates; the year acts as the major component. A supported
// revision is returned unchanged. An unknown revision within a supported
// year is clamped to the newest supported revision of that year that is not
// newer than v, or to the oldest revision of that year when v predates all
// of them. Anything else fails with ErrUnsupportedProtocolVersion.
func NegotiateProtocolVersion(v string) (string, error) {
	if IsSupportedProtocolVersion(v) {
		return v, nil
	}
	requested, err := time.Parse(versionLayout, v)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a protocol revision", ErrUnsupportedProtocolVersion, v)
	}

	var (
		best     string
		earliest string
	)
	for _, candidate := range SupportedProtocolVersions {
		t, err := time.Parse(versionLayout, candidate)
		if err != nil || t.Year() != requested.Year() {
			continue
		}
		if earliest == "" {
			earliest = candidate
		}
		if !t.After(requested) {
			best = candidate
		}
	}
	switch {
	case best != "":
		return best, nil
	case earliest != "":
		return earliest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocolVersion, v)
	}
}

// CompareProtocolVersions orders two revisions. Both are expected to be
// well-formed dates; they compare lexically, which matches date order.
func CompareProtocolVersions(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
