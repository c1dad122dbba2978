// Package source provides read access to raw telemetry events, the input
// of partition materialization.
package source

import (
	"context"

	"github.com/chronolake/chronolake/pkg/types"
)

// Accessor reads raw events from the ingestion subsystem. Events are
// selected by insert time, the append-only clock partitions are keyed on.
type Accessor interface {
	// ReadEvents returns all events of a stream whose insert time falls
	// in the half-open range r, ordered by insert time ascending.
	ReadEvents(ctx context.Context, streamID string, r types.TimeRange) ([]types.Event, error)

	// CountEvents returns the number of events ReadEvents would return
	// for the same arguments. Since the event log is append-only, the
	// count identifies the source data a partition was built from: a
	// partition recording a smaller count than the current one is stale.
	CountEvents(ctx context.Context, streamID string, r types.TimeRange) (int64, error)

	// ListStreams returns the IDs of all known streams.
	ListStreams(ctx context.Context) ([]string, error)
}
