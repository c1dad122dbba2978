package staleness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/source"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestChecker(t *testing.T) (*Checker, *metastore.SQLiteCatalog, *source.MemoryAccessor) {
	t.Helper()
	catalog, err := metastore.NewCatalog(filepath.Join(t.TempDir(), "meta.db"), time.Hour)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	src := source.NewMemoryAccessor()
	return NewChecker(catalog, src), catalog, src
}

func insertPartition(t *testing.T, catalog *metastore.SQLiteCatalog, v view.View, begin, end time.Time, fingerprint string) {
	t.Helper()
	insertPartitionWithCount(t, catalog, v, begin, end, fingerprint, 0)
}

func insertPartitionWithCount(t *testing.T, catalog *metastore.SQLiteCatalog, v view.View, begin, end time.Time, fingerprint string, sourceCount int64) {
	t.Helper()
	_, _, err := catalog.InsertPartition(context.Background(), &metastore.PartitionRecord{
		ViewSetName:       v.ViewSetName(),
		ViewInstanceID:    v.ViewInstanceID(),
		BeginInsertTime:   begin,
		EndInsertTime:     end,
		MinEventTime:      begin,
		MaxEventTime:      end,
		FilePath:          "views/" + v.ViewSetName() + "/" + begin.Format(time.RFC3339) + ".slp",
		FileSize:          1,
		RowCount:          1,
		SourceEventCount:  sourceCount,
		SchemaFingerprint: fingerprint,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

func logEvent(streamID string, ts time.Time) types.Event {
	return types.Event{
		StreamID:   streamID,
		Kind:       types.KindLog,
		Name:       "app",
		EventTime:  ts,
		InsertTime: ts,
		Msg:        "m",
	}
}

func TestCheckExactRangeIsCovered(t *testing.T) {
	checker, catalog, _ := newTestChecker(t)
	v := view.NewLogEntriesView("s")

	begin := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := begin.Add(time.Hour)
	insertPartition(t, catalog, v, begin, end, v.Fingerprint())

	// Re-querying the exact range of an existing partition must find it
	// covered. Exclusive bound comparisons break this case.
	result, err := checker.Check(context.Background(), v, types.TimeRange{Begin: begin, End: end})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Coverage != CoverageFull {
		t.Fatalf("coverage = %v, want full (gaps: %v)", result.Coverage, result.Gaps)
	}
	if len(result.Current) != 1 {
		t.Errorf("expected 1 current partition, got %d", len(result.Current))
	}
}

func TestCheckUncoveredRange(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	v := view.NewLogEntriesView("s")

	r := types.TimeRange{
		Begin: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	result, err := checker.Check(context.Background(), v, r)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Coverage != CoverageNone {
		t.Fatalf("coverage = %v, want none", result.Coverage)
	}
	if len(result.Gaps) != 1 || !result.Gaps[0].Begin.Equal(r.Begin) || !result.Gaps[0].End.Equal(r.End) {
		t.Errorf("gaps = %v, want [%v]", result.Gaps, r)
	}
}

func TestCheckPartialCoverage(t *testing.T) {
	checker, catalog, _ := newTestChecker(t)
	v := view.NewLogEntriesView("s")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insertPartition(t, catalog, v, base, base.Add(time.Hour), v.Fingerprint())
	insertPartition(t, catalog, v, base.Add(2*time.Hour), base.Add(3*time.Hour), v.Fingerprint())

	result, err := checker.Check(context.Background(), v,
		types.TimeRange{Begin: base, End: base.Add(4 * time.Hour)})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Coverage != CoveragePartial {
		t.Fatalf("coverage = %v, want partial", result.Coverage)
	}
	want := []types.TimeRange{
		{Begin: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
		{Begin: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)},
	}
	if len(result.Gaps) != len(want) {
		t.Fatalf("gaps = %v, want %v", result.Gaps, want)
	}
	for i := range want {
		if !result.Gaps[i].Begin.Equal(want[i].Begin) || !result.Gaps[i].End.Equal(want[i].End) {
			t.Errorf("gap[%d] = %v, want %v", i, result.Gaps[i], want[i])
		}
	}
}

func TestCheckStaleFingerprintIsUncovered(t *testing.T) {
	checker, catalog, _ := newTestChecker(t)
	v := view.NewLogEntriesView("s")

	begin := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := begin.Add(time.Hour)
	insertPartition(t, catalog, v, begin, end, "stale-fingerprint")

	result, err := checker.Check(context.Background(), v, types.TimeRange{Begin: begin, End: end})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Coverage != CoverageNone {
		t.Fatalf("coverage = %v, want none for stale fingerprint", result.Coverage)
	}
	if len(result.Current) != 0 {
		t.Errorf("stale partition counted as current")
	}
}

func TestCheckSourceGrowthIsUncovered(t *testing.T) {
	checker, catalog, src := newTestChecker(t)
	v := view.NewLogEntriesView("s")

	begin := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := begin.Add(time.Hour)
	r := types.TimeRange{Begin: begin, End: end}

	// Partition built when the bucket held two events.
	src.Add(logEvent("s", begin.Add(5*time.Minute)), logEvent("s", begin.Add(10*time.Minute)))
	insertPartitionWithCount(t, catalog, v, begin, end, v.Fingerprint(), 2)

	result, err := checker.Check(context.Background(), v, r)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Coverage != CoverageFull {
		t.Fatalf("coverage = %v, want full while counts match", result.Coverage)
	}

	// Two more events arrive inside the partition's range. The recorded
	// count now lags the event log, so the partition must be rebuilt.
	src.Add(logEvent("s", begin.Add(40*time.Minute)), logEvent("s", begin.Add(50*time.Minute)))

	result, err = checker.Check(context.Background(), v, r)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Coverage != CoverageNone {
		t.Fatalf("coverage = %v, want none after source growth", result.Coverage)
	}
	if len(result.Gaps) != 1 || !result.Gaps[0].Begin.Equal(begin) || !result.Gaps[0].End.Equal(end) {
		t.Errorf("gaps = %v, want [%v]", result.Gaps, r)
	}
}

func TestCheckInvalidRange(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	v := view.NewLogEntriesView("s")

	now := time.Now().UTC()
	if _, err := checker.Check(context.Background(), v, types.TimeRange{Begin: now, End: now}); err == nil {
		t.Fatal("expected error for empty range")
	}
	if _, err := checker.Check(context.Background(), v, types.TimeRange{Begin: now, End: now.Add(-time.Hour)}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestSubtract(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hour := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }
	rng := func(a, b int) types.TimeRange { return types.TimeRange{Begin: hour(a), End: hour(b)} }

	tests := []struct {
		name    string
		query   types.TimeRange
		covered []types.TimeRange
		want    []types.TimeRange
	}{
		{"no coverage", rng(0, 4), nil, []types.TimeRange{rng(0, 4)}},
		{"full coverage", rng(0, 4), []types.TimeRange{rng(0, 4)}, nil},
		{"covering superset", rng(1, 3), []types.TimeRange{rng(0, 4)}, nil},
		{"gap in middle", rng(0, 4), []types.TimeRange{rng(0, 1), rng(3, 4)}, []types.TimeRange{rng(1, 3)}},
		{"gap at both ends", rng(0, 4), []types.TimeRange{rng(1, 3)}, []types.TimeRange{rng(0, 1), rng(3, 4)}},
		{"overlapping covers merge", rng(0, 4), []types.TimeRange{rng(0, 2), rng(1, 4)}, nil},
		{"touching covers merge", rng(0, 4), []types.TimeRange{rng(0, 2), rng(2, 4)}, nil},
		{"cover outside query", rng(0, 2), []types.TimeRange{rng(3, 4)}, []types.TimeRange{rng(0, 2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subtract(tt.query, tt.covered)
			if len(got) != len(tt.want) {
				t.Fatalf("gaps = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if !got[i].Begin.Equal(tt.want[i].Begin) || !got[i].End.Equal(tt.want[i].End) {
					t.Errorf("gap[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAlignRange(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	aligned := AlignRange(types.TimeRange{
		Begin: base.Add(17 * time.Minute),
		End:   base.Add(80 * time.Minute),
	}, time.Hour)
	if !aligned.Begin.Equal(base) || !aligned.End.Equal(base.Add(2*time.Hour)) {
		t.Errorf("aligned = %v", aligned)
	}

	// Already aligned ranges are unchanged.
	same := AlignRange(types.TimeRange{Begin: base, End: base.Add(time.Hour)}, time.Hour)
	if !same.Begin.Equal(base) || !same.End.Equal(base.Add(time.Hour)) {
		t.Errorf("aligned = %v, want unchanged", same)
	}
}

func TestSplitBuckets(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	buckets := SplitBuckets(types.TimeRange{Begin: base, End: base.Add(90 * time.Minute)}, time.Hour)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %v", len(buckets), buckets)
	}
	if !buckets[0].Begin.Equal(base.Truncate(time.Hour)) {
		t.Errorf("first bucket = %v", buckets[0])
	}
	for i, b := range buckets {
		if b.Duration() != time.Hour {
			t.Errorf("bucket[%d] duration = %v", i, b.Duration())
		}
	}
}

func TestSubtractProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	toRange := func(pair []int) types.TimeRange {
		a, b := pair[0], pair[1]
		if a > b {
			a, b = b, a
		}
		return types.TimeRange{
			Begin: base.Add(time.Duration(a) * time.Minute),
			End:   base.Add(time.Duration(b+1) * time.Minute),
		}
	}

	genRange := gen.SliceOfN(2, gen.IntRange(0, 240))
	genCovered := gen.SliceOf(genRange)

	properties.Property("gaps stay inside the query and never overlap coverage", prop.ForAll(
		func(queryPair []int, coveredPairs [][]int) bool {
			query := toRange(queryPair)
			var covered []types.TimeRange
			for _, p := range coveredPairs {
				covered = append(covered, toRange(p))
			}

			gaps := Subtract(query, covered)
			for _, g := range gaps {
				if !g.IsValid() || g.Begin.Before(query.Begin) || g.End.After(query.End) {
					return false
				}
				for _, c := range covered {
					if g.Begin.Before(c.End) && g.End.After(c.Begin) {
						return false
					}
				}
			}
			return true
		},
		genRange, genCovered,
	))

	properties.Property("gap durations plus covered overlap equal the query duration", prop.ForAll(
		func(queryPair []int, coveredPairs [][]int) bool {
			query := toRange(queryPair)
			var covered []types.TimeRange
			for _, p := range coveredPairs {
				covered = append(covered, toRange(p))
			}

			var gapTotal time.Duration
			for _, g := range Subtract(query, covered) {
				gapTotal += g.Duration()
			}
			var coveredTotal time.Duration
			for _, m := range mergeRanges(covered) {
				if sect, ok := query.Intersect(m); ok {
					coveredTotal += sect.Duration()
				}
			}
			return gapTotal+coveredTotal == query.Duration()
		},
		genRange, genCovered,
	))

	properties.TestingRun(t)
}
