package view

import (
	"github.com/chronolake/chronolake/pkg/types"
)

const measuresTransformVersion = 1

var measuresSchema = &types.Schema{
	Columns: []types.ColumnDef{
		{Name: "stream_id", Type: "TEXT"},
		{Name: "insert_time", Type: "INTEGER"},
		{Name: "event_time", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
		{Name: "unit", Type: "TEXT"},
		{Name: "value", Type: "REAL"},
		{Name: "properties", Type: "BLOB", Nullable: true},
	},
}

// MeasuresView materializes the metric events of one stream into rows of
// the measures view set.
type MeasuresView struct {
	instanceID  string
	fingerprint string
}

// NewMeasuresView creates a measures view for one stream.
func NewMeasuresView(streamID string) *MeasuresView {
	return &MeasuresView{
		instanceID:  streamID,
		fingerprint: Fingerprint("measures", measuresTransformVersion, measuresSchema),
	}
}

func (v *MeasuresView) ViewSetName() string    { return "measures" }
func (v *MeasuresView) ViewInstanceID() string { return v.instanceID }
func (v *MeasuresView) Schema() *types.Schema  { return measuresSchema }
func (v *MeasuresView) Fingerprint() string    { return v.fingerprint }

// Transform keeps metric events and drops everything else.
func (v *MeasuresView) Transform(events []types.Event) (*types.RowBatch, error) {
	batch := &types.RowBatch{}
	for _, ev := range events {
		if ev.Kind != types.KindMetric {
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
			ev.Unit,
			ev.Value,
			props,
		}, ev.EventTime)
	}
	return batch, nil
}
