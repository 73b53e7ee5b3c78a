package session

import (
	"fmt"
	"sort"

	"github.com/shardflow/shardflow/internal/errors"
)

// AllocatePortRange finds the first contiguous block of count ports at or
// above base that does not overlap any existing range. Pure over its inputs:
// the caller loads the existing ranges from the store.
//
// Ranges belonging to Stopped shards still count as taken; ports are
// released only when the shard is destroyed.
func AllocatePortRange(existing []PortRange, base, count int) (PortRange, error) {
	if count < 1 {
		return PortRange{}, errors.NewValidationError("port count must be at least 1").WithField("count")
	}
	if base < 1 || base > 65535 {
		return PortRange{}, errors.NewValidationError(fmt.Sprintf("port base %d out of range", base)).WithField("base")
	}

	taken := make([]PortRange, 0, len(existing))
	taken = append(taken, existing...)
	sort.Slice(taken, func(i, j int) bool { return taken[i].Start < taken[j].Start })

	start := base
	for _, r := range taken {
		if r.End < start {
			continue
		}
		// Gap before this range fits the request.
		if r.Start >= start+count {
			break
		}
		start = r.End + 1
	}

	end := start + count - 1
	if end > 65535 {
		return PortRange{}, errors.NewValidationError(
			fmt.Sprintf("no free port range of %d ports at or above %d", count, base)).WithField("count")
	}
	return PortRange{Start: start, End: end, Count: count}, nil
}

// ValidatePortRanges checks that no two sessions' port ranges overlap.
// Sessions without an allocated range (start 0) are ignored.
func ValidatePortRanges(sessions []*Session) error {
	ranges := make([]struct {
		id string
		r  PortRange
	}, 0, len(sessions))
	for _, s := range sessions {
		if s.PortRangeStart == 0 {
			continue
		}
		ranges = append(ranges, struct {
			id string
			r  PortRange
		}{s.ID, s.PortRange()})
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].r.Start < ranges[j].r.Start })

	for i := 1; i < len(ranges); i++ {
		prev, cur := ranges[i-1], ranges[i]
		if prev.r.Overlaps(cur.r) {
			return fmt.Errorf("port ranges overlap: %s [%d-%d] and %s [%d-%d]",
				prev.id, prev.r.Start, prev.r.End, cur.id, cur.r.Start, cur.r.End)
		}
	}
	return nil
}
