// Package channelgroup implements the channel-group algebra: the mapping
// between session channels and the chAA-BB group labels used by the capture
// agent to partition channels across segment files.
package channelgroup

import (
	"fmt"
	"regexp"
	"strconv"
)

// Group is a contiguous, 1-based inclusive range of channels co-located in a
// single segment file.
type Group struct {
	Lower int
	Upper int
}

var (
	groupPattern = regexp.MustCompile(`^ch(\d{2,})-(\d{2,})$`)

	// filenamePattern extracts the group label and optional segment number
	// from capture-agent filenames such as
	// "2026-01-02T03-04-05_seg00017_ch01-06.flac".
	filenamePattern = regexp.MustCompile(`(?:seg(\d+))?_?(ch\d{2,}-\d{2,})[^/]*\.(wav|flac)$`)
)

// Name returns the canonical group label, e.g. "ch01-06".
func (g Group) Name() string {
	return fmt.Sprintf("ch%02d-%02d", g.Lower, g.Upper)
}

// Size returns the number of channels in the group.
func (g Group) Size() int {
	return g.Upper - g.Lower + 1
}

// Contains reports whether channel c falls inside the group.
func (g Group) Contains(c int) bool {
	return c >= g.Lower && c <= g.Upper
}

// IndexOf returns the 0-based position of channel c within the group.
// The caller must ensure Contains(c).
func (g Group) IndexOf(c int) int {
	return c - g.Lower
}

// Parse parses a chAA-BB label. The reserved label "unknown" and anything
// else that does not match the pattern return an error.
func Parse(label string) (Group, error) {
	m := groupPattern.FindStringSubmatch(label)
	if m == nil {
		return Group{}, fmt.Errorf("invalid channel group label %q", label)
	}
	lower, _ := strconv.Atoi(m[1])
	upper, _ := strconv.Atoi(m[2])
	if lower < 1 || upper < lower {
		return Group{}, fmt.Errorf("invalid channel group range %q", label)
	}
	return Group{Lower: lower, Upper: upper}, nil
}

// Partition splits channels 1..n into consecutive groups of at most size,
// e.g. Partition(18, 6) = [ch01-06, ch07-12, ch13-18]. The final group is
// shorter when n is not a multiple of size.
func Partition(n, size int) []Group {
	if n < 1 || size < 1 {
		return nil
	}
	groups := make([]Group, 0, (n+size-1)/size)
	for lower := 1; lower <= n; lower += size {
		upper := lower + size - 1
		if upper > n {
			upper = n
		}
		groups = append(groups, Group{Lower: lower, Upper: upper})
	}
	return groups
}

// ForChannel returns the group containing channel c under the partitioning of
// n channels into groups of the given size.
func ForChannel(c, n, size int) (Group, error) {
	if c < 1 || c > n {
		return Group{}, fmt.Errorf("channel %d out of range 1..%d", c, n)
	}
	lower := ((c-1)/size)*size + 1
	upper := lower + size - 1
	if upper > n {
		upper = n
	}
	return Group{Lower: lower, Upper: upper}, nil
}

// FromFilename extracts the channel group label and segment number from a
// content-disposition filename. Either result may be absent: an empty label
// and/or a -1 segment number signal "not found".
func FromFilename(filename string) (label string, segmentNumber int) {
	segmentNumber = -1
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", segmentNumber
	}
	if m[1] != "" {
		if n, err := strconv.Atoi(m[1]); err == nil {
			segmentNumber = n
		}
	}
	return m[2], segmentNumber
}
