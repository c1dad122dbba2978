package view

import (
	"github.com/chronolake/chronolake/pkg/types"
)

const threadSpansTransformVersion = 1

var threadSpansSchema = &types.Schema{
	Columns: []types.ColumnDef{
		{Name: "stream_id", Type: "TEXT"},
		{Name: "insert_time", Type: "INTEGER"},
		{Name: "begin_time", Type: "INTEGER"},
		{Name: "end_time", Type: "INTEGER"},
		{Name: "duration_ns", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
		{Name: "properties", Type: "BLOB", Nullable: true},
	},
}

// ThreadSpansView materializes the span events of one thread stream into
// rows of the thread_spans view set.
type ThreadSpansView struct {
	instanceID  string
	fingerprint string
}

// NewThreadSpansView creates a thread_spans view for one stream.
func NewThreadSpansView(streamID string) *ThreadSpansView {
	return &ThreadSpansView{
		instanceID:  streamID,
		fingerprint: Fingerprint("thread_spans", threadSpansTransformVersion, threadSpansSchema),
	}
}

func (v *ThreadSpansView) ViewSetName() string    { return "thread_spans" }
func (v *ThreadSpansView) ViewInstanceID() string { return v.instanceID }
func (v *ThreadSpansView) Schema() *types.Schema  { return threadSpansSchema }
func (v *ThreadSpansView) Fingerprint() string    { return v.fingerprint }

// Transform keeps span events. A span's event time is its begin time; the
// end time derives from the recorded duration.
func (v *ThreadSpansView) Transform(events []types.Event) (*types.RowBatch, error) {
	batch := &types.RowBatch{}
	for _, ev := range events {
		if ev.Kind != types.KindSpan {
			continue
		}
		props, err := EncodeProperties(ev.Properties)
		if err != nil {
			return nil, err
		}
		beginNanos := ev.EventTime.UnixNano()
		batch.Append(types.Row{
			ev.StreamID,
			ev.InsertTime.UnixNano(),
			beginNanos,
			beginNanos + ev.DurationNs,
			ev.DurationNs,
			ev.Name,
			props,
		}, ev.EventTime)
	}
	return batch, nil
}
