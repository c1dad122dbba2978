package types

import "time"

// Row is one output row of a view transform, with values in the view
// schema's column order.
type Row []interface{}

// RowBatch is a chunk of transformed rows sharing a schema, together with
// the event-time bounds of the rows it holds. Batches preserve the
// insertion order established at materialization time.
type RowBatch struct {
	Rows         []Row
	MinEventTime time.Time
	MaxEventTime time.Time
}

// Append adds a row and widens the batch's event-time bounds.
func (b *RowBatch) Append(row Row, eventTime time.Time) {
	if len(b.Rows) == 0 || eventTime.Before(b.MinEventTime) {
		b.MinEventTime = eventTime
	}
	if len(b.Rows) == 0 || eventTime.After(b.MaxEventTime) {
		b.MaxEventTime = eventTime
	}
	b.Rows = append(b.Rows, row)
}

// Len returns the number of rows in the batch.
func (b *RowBatch) Len() int {
	return len(b.Rows)
}
