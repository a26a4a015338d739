package record

import (
	"github.com/lllypuk/estately/internal/domain/record"
)

// CreateCommand creates a record. ID is generated when empty.
type CreateCommand struct {
	Kind     record.Kind    `json:"-"`
	ID       string         `json:"id,omitempty"`
	Fields   map[string]any `json:"fields"`
	ParentID string         `json:"parentId,omitempty"`
}

// UpdateCommand patches fields; a nil value removes the field.
type UpdateCommand struct {
	Kind  record.Kind    `json:"-"`
	ID    string         `json:"-"`
	Patch map[string]any `json:"fields"`
}

// ArchiveCommand archives a record.
type ArchiveCommand struct {
	Kind   record.Kind `json:"-"`
	ID     string      `json:"-"`
	Reason string      `json:"reason,omitempty"`
}

// Result is the record state after a command.
type Result struct {
	Record  record.State `json:"record"`
	Version int          `json:"version"`
	Changed bool         `json:"changed"`
}
