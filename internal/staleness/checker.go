// Package staleness decides whether materialized partitions cover a query
// range, and where the gaps are.
package staleness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chronolake/chronolake/internal/errors"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/source"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
)

// Coverage summarizes how much of a query range is backed by current
// partitions.
type Coverage int

const (
	CoverageNone Coverage = iota
	CoveragePartial
	CoverageFull
)

func (c Coverage) String() string {
	switch c {
	case CoverageFull:
		return "full"
	case CoveragePartial:
		return "partial"
	default:
		return "none"
	}
}

// Result is the outcome of a staleness check.
type Result struct {
	Coverage Coverage

	// Current holds the overlapping partitions whose schema fingerprint
	// matches the view and whose recorded source data is still complete,
	// ordered by begin time.
	Current []*metastore.PartitionRecord

	// Gaps are the sub-ranges of the query not covered by any current
	// partition, ordered and non-overlapping. A partition carrying a
	// stale fingerprint, or built before more events arrived in its
	// range, contributes nothing to coverage, so its range shows up here.
	Gaps []types.TimeRange
}

// Checker evaluates partition coverage against the metastore and the
// source event log.
type Checker struct {
	catalog metastore.Catalog
	src     source.Accessor
}

// NewChecker creates a staleness checker.
func NewChecker(catalog metastore.Catalog, src source.Accessor) *Checker {
	return &Checker{catalog: catalog, src: src}
}

// Check reports whether v's partitions cover the query range r. Overlap
// uses inclusive bounds on both sides so that re-querying the exact range
// of an existing partition finds it covered. A partition counts toward
// coverage only while its recorded source event count matches the event
// log: the log is append-only, so a partition recording fewer events than
// its range now holds was built too early and must be rebuilt.
func (c *Checker) Check(ctx context.Context, v view.View, r types.TimeRange) (*Result, error) {
	if !r.IsValid() {
		return nil, errors.NewValidationError(errors.CodeInvalidRange,
			"query range must be non-empty with begin before end")
	}

	overlapping, err := c.catalog.ListOverlapping(ctx, v.ViewSetName(), v.ViewInstanceID(), r)
	if err != nil {
		return nil, err
	}

	fingerprint := v.Fingerprint()
	var current []*metastore.PartitionRecord
	var covered []types.TimeRange
	for _, rec := range overlapping {
		if rec.SchemaFingerprint != fingerprint {
			continue
		}
		required, err := c.src.CountEvents(ctx, v.ViewInstanceID(), rec.InsertRange())
		if err != nil {
			return nil, errors.NewSourceError(
				fmt.Sprintf("failed to count source events for %s", rec.InsertRange()), err)
		}
		if rec.SourceEventCount < required {
			continue
		}
		current = append(current, rec)
		covered = append(covered, rec.InsertRange())
	}

	gaps := Subtract(r, covered)

	result := &Result{Current: current, Gaps: gaps}
	switch {
	case len(gaps) == 0:
		result.Coverage = CoverageFull
	case len(current) == 0:
		result.Coverage = CoverageNone
	default:
		result.Coverage = CoveragePartial
	}
	return result, nil
}

// Subtract returns the parts of r not covered by any of the given ranges.
func Subtract(r types.TimeRange, covered []types.TimeRange) []types.TimeRange {
	merged := mergeRanges(covered)

	var gaps []types.TimeRange
	cursor := r.Begin
	for _, m := range merged {
		if !m.End.After(cursor) {
			continue
		}
		if !m.Begin.Before(r.End) {
			break
		}
		if m.Begin.After(cursor) {
			gaps = append(gaps, types.TimeRange{Begin: cursor, End: minTime(m.Begin, r.End)})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
		if !cursor.Before(r.End) {
			return gaps
		}
	}
	if cursor.Before(r.End) {
		gaps = append(gaps, types.TimeRange{Begin: cursor, End: r.End})
	}
	return gaps
}

// mergeRanges sorts and coalesces overlapping or touching ranges.
func mergeRanges(ranges []types.TimeRange) []types.TimeRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]types.TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Begin.Before(sorted[j].Begin)
	})

	merged := []types.TimeRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !r.Begin.After(last.End) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// AlignRange widens r outward to bucket boundaries.
func AlignRange(r types.TimeRange, bucket time.Duration) types.TimeRange {
	begin := r.Begin.Truncate(bucket)
	end := r.End.Truncate(bucket)
	if end.Before(r.End) {
		end = end.Add(bucket)
	}
	return types.TimeRange{Begin: begin, End: end}
}

// SplitBuckets aligns r and splits it into bucket-sized sub-ranges.
func SplitBuckets(r types.TimeRange, bucket time.Duration) []types.TimeRange {
	aligned := AlignRange(r, bucket)
	var out []types.TimeRange
	for t := aligned.Begin; t.Before(aligned.End); t = t.Add(bucket) {
		out = append(out, types.TimeRange{Begin: t, End: t.Add(bucket)})
	}
	return out
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
