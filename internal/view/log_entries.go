package view

import (
	"github.com/chronolake/chronolake/pkg/types"
)

// logEntriesTransformVersion bumps whenever the log transform changes in a
// way that should invalidate existing partitions.
const logEntriesTransformVersion = 1

var logEntriesSchema = &types.Schema{
	Columns: []types.ColumnDef{
		{Name: "stream_id", Type: "TEXT"},
		{Name: "insert_time", Type: "INTEGER"},
		{Name: "event_time", Type: "INTEGER"},
		{Name: "target", Type: "TEXT"},
		{Name: "level", Type: "INTEGER"},
		{Name: "msg", Type: "TEXT"},
		{Name: "properties", Type: "BLOB", Nullable: true},
	},
}

// LogEntriesView materializes the log events of one stream into rows of
// the log_entries view set.
type LogEntriesView struct {
	instanceID  string
	fingerprint string
}

// NewLogEntriesView creates a log_entries view for one stream.
func NewLogEntriesView(streamID string) *LogEntriesView {
	return &LogEntriesView{
		instanceID:  streamID,
		fingerprint: Fingerprint("log_entries", logEntriesTransformVersion, logEntriesSchema),
	}
}

func (v *LogEntriesView) ViewSetName() string    { return "log_entries" }
func (v *LogEntriesView) ViewInstanceID() string { return v.instanceID }
func (v *LogEntriesView) Schema() *types.Schema  { return logEntriesSchema }
func (v *LogEntriesView) Fingerprint() string    { return v.fingerprint }

// Transform keeps log events and drops everything else. Timestamps are
// stored as unix nanoseconds; the property bag is encoded for the file
// writer's blob column.
func (v *LogEntriesView) Transform(events []types.Event) (*types.RowBatch, error) {
	batch := &types.RowBatch{}
	for _, ev := range events {
		if ev.Kind != types.KindLog {
			continue
		}
		props, err := EncodeProperties(ev.Properties)
		if err != nil {
			return nil, err
		}
		batch.Append(types.Row{
			ev.StreamID,
			ev.InsertTime.UnixNano(),
			ev.EventTime.UnixNano(),
			ev.Name,
			int64(ev.Level),
			ev.Msg,
			props,
		}, ev.EventTime)
	}
	return batch, nil
}
