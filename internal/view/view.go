// Package view defines materializable views over raw telemetry events.
//
// A view set (e.g. "log_entries") fixes a schema and a transform; a view
// instance binds the set to one source stream. Partitions are keyed by
// (view set, view instance), and every partition file carries the schema
// fingerprint of the view that produced it. Bumping a view's transform or
// schema changes the fingerprint, which silently invalidates all existing
// partitions of that set.
package view

import (
	"encoding/json"
	"fmt"

	"github.com/chronolake/chronolake/pkg/types"
	"github.com/spaolacci/murmur3"
)

// View is one materializable instance of a view set.
type View interface {
	// ViewSetName names the view set this instance belongs to.
	ViewSetName() string

	// ViewInstanceID identifies the instance, usually a source stream ID.
	ViewInstanceID() string

	// Schema describes the columns of partition files this view produces.
	Schema() *types.Schema

	// Fingerprint is the opaque version tag stored with every partition.
	// Two fingerprints are only ever compared for equality.
	Fingerprint() string

	// Transform converts raw source events into rows of the view schema.
	// Events outside the view's kind are skipped, not errors.
	Transform(events []types.Event) (*types.RowBatch, error)
}

// Fingerprint hashes a view's identity into its opaque version tag. The
// transform version participates so that logic changes invalidate
// partitions even when the schema is unchanged.
func Fingerprint(viewSetName string, transformVersion int, schema *types.Schema) string {
	payload := struct {
		ViewSetName      string         `json:"view_set_name"`
		TransformVersion int            `json:"transform_version"`
		Columns          []types.ColumnDef `json:"columns"`
	}{viewSetName, transformVersion, schema.Columns}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a struct of strings and ints cannot fail.
		panic(fmt.Sprintf("view: fingerprint marshal: %v", err))
	}
	return fmt.Sprintf("%016x", murmur3.Sum64(data))
}

// SchemaJSON serializes a schema for the metastore audit table.
func SchemaJSON(schema *types.Schema) string {
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("view: schema marshal: %v", err))
	}
	return string(data)
}
