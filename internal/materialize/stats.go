package materialize

import "sync/atomic"

// BuildStats tracks materialization activity with atomic counters. A
// single instance is shared across goroutines building in parallel.
type BuildStats struct {
	buildsStarted   int64
	buildsSucceeded int64
	buildsFailed    int64
	buildsSkipped   int64
	racesLost       int64
	rowsWritten     int64
	bytesWritten    int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	BuildsStarted   int64
	BuildsSucceeded int64
	BuildsFailed    int64
	BuildsSkipped   int64
	RacesLost       int64
	RowsWritten     int64
	BytesWritten    int64
}

func (s *BuildStats) buildStarted()  { atomic.AddInt64(&s.buildsStarted, 1) }
func (s *BuildStats) buildFailed()   { atomic.AddInt64(&s.buildsFailed, 1) }
func (s *BuildStats) buildSkipped()  { atomic.AddInt64(&s.buildsSkipped, 1) }
func (s *BuildStats) raceLost()      { atomic.AddInt64(&s.racesLost, 1) }

func (s *BuildStats) buildSucceeded(rows, bytes int64) {
	atomic.AddInt64(&s.buildsSucceeded, 1)
	atomic.AddInt64(&s.rowsWritten, rows)
	atomic.AddInt64(&s.bytesWritten, bytes)
}

// Snapshot returns a consistent-enough copy of the counters.
func (s *BuildStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BuildsStarted:   atomic.LoadInt64(&s.buildsStarted),
		BuildsSucceeded: atomic.LoadInt64(&s.buildsSucceeded),
		BuildsFailed:    atomic.LoadInt64(&s.buildsFailed),
		BuildsSkipped:   atomic.LoadInt64(&s.buildsSkipped),
		RacesLost:       atomic.LoadInt64(&s.racesLost),
		RowsWritten:     atomic.LoadInt64(&s.rowsWritten),
		BytesWritten:    atomic.LoadInt64(&s.bytesWritten),
	}
}
