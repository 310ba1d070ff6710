// Package iceberg provides the Apache Iceberg table model consumed by the snapshot source.
package iceberg

import (
	"fmt"
	"strings"
	"time"
)

// NoSnapshotID marks the absence of a snapshot. A cursor at NoSnapshotID
// means nothing has been consumed yet.
const NoSnapshotID int64 = -1

// Type represents an Iceberg data type.
type Type string

// Iceberg primitive types.
const (
	TypeBoolean   Type = "boolean"
	TypeInt       Type = "int"
	TypeLong      Type = "long"
	TypeFloat     Type = "float"
	TypeDouble    Type = "double"
	TypeDate      Type = "date"
	TypeTime      Type = "time"
	TypeTimestamp Type = "timestamp"
	TypeString    Type = "string"
	TypeUUID      Type = "uuid"
	TypeBinary    Type = "binary"
)

// Field represents a field in an Iceberg schema.
type Field struct {
	// ID is the unique field identifier.
	ID int `json:"id"`

	// Name is the field name.
	Name string `json:"name"`

	// Type is the field data type.
	Type Type `json:"type"`

	// Required indicates if the field is required (not nullable).
	Required bool `json:"required"`

	// Doc is an optional documentation string.
	Doc string `json:"doc,omitempty"`
}

// Schema represents an Iceberg table schema.
type Schema struct {
	// SchemaID is the schema identifier.
	SchemaID int `json:"schema-id"`

	// Fields is the list of fields in the schema.
	Fields []Field `json:"fields"`
}

// FindField looks up a top-level field by name. With caseSensitive unset,
// names are compared case-insensitively.
func (s Schema) FindField(name string, caseSensitive bool) (Field, bool) {
	for _, f := range s.Fields {
		if caseSensitive {
			if f.Name == name {
				return f, true
			}
			continue
		}
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Select resolves a projection against the schema and returns the canonical
// column names. An empty projection selects every column.
func (s Schema) Select(names []string, caseSensitive bool) ([]string, error) {
	if len(names) == 0 {
		all := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			all[i] = f.Name
		}
		return all, nil
	}

	resolved := make([]string, 0, len(names))
	for _, name := range names {
		f, ok := s.FindField(name, caseSensitive)
		if !ok {
			return nil, fmt.Errorf("cannot find field %q in schema %d (case sensitive: %t)", name, s.SchemaID, caseSensitive)
		}
		resolved = append(resolved, f.Name)
	}
	return resolved, nil
}

// PartitionField represents a partition field specification.
type PartitionField struct {
	// SourceID is the ID of the source field.
	SourceID int `json:"source-id"`

	// FieldID is the partition field ID.
	FieldID int `json:"field-id"`

	// Name is the partition field name.
	Name string `json:"name"`

	// Transform is the partition transform (identity, year, month, day, hour, etc.).
	Transform string `json:"transform"`
}

// PartitionSpec represents an Iceberg partition specification.
type PartitionSpec struct {
	// SpecID is the partition spec identifier.
	SpecID int `json:"spec-id"`

	// Fields is the list of partition fields.
	Fields []PartitionField `json:"fields"`
}

// DataFile represents metadata about a data file in Iceberg.
type DataFile struct {
	// FilePath is the path to the data file.
	FilePath string `json:"file-path"`

	// FileFormat is the file format (parquet, avro, orc).
	FileFormat string `json:"file-format"`

	// RecordCount is the number of records in the file.
	RecordCount int64 `json:"record-count"`

	// FileSizeInBytes is the file size.
	FileSizeInBytes int64 `json:"file-size-in-bytes"`

	// SplitOffsets are the recommended split positions, if the writer recorded any.
	SplitOffsets []int64 `json:"split-offsets,omitempty"`

	// PartitionData contains the partition values for this file.
	PartitionData map[string]any `json:"partition,omitempty"`
}

// FileScanTask describes a byte range of a single data file to read.
type FileScanTask struct {
	// File is the data file to read.
	File DataFile `json:"data-file"`

	// Start is the byte offset the read starts at.
	Start int64 `json:"start"`

	// Length is the number of bytes to read.
	Length int64 `json:"length"`

	// ResidualFilter is the filter still to apply to rows read from the range.
	ResidualFilter string `json:"residual-filter,omitempty"`
}

// CombinedScanTask groups file scan tasks that a downstream reader processes
// as one unit of work.
type CombinedScanTask struct {
	// Files are the file ranges in read order.
	Files []FileScanTask `json:"files"`
}

// SizeBytes returns the total bytes covered by the task.
func (t CombinedScanTask) SizeBytes() int64 {
	var total int64
	for _, f := range t.Files {
		total += f.Length
	}
	return total
}

// Snapshot represents an Iceberg table snapshot.
type Snapshot struct {
	// SnapshotID is the unique snapshot identifier.
	SnapshotID int64 `json:"snapshot-id"`

	// ParentSnapshotID is the parent snapshot ID (0 for first snapshot).
	ParentSnapshotID int64 `json:"parent-snapshot-id,omitempty"`

	// SequenceNumber orders snapshots within the table (format v2).
	SequenceNumber int64 `json:"sequence-number,omitempty"`

	// TimestampMs is the snapshot creation timestamp.
	TimestampMs int64 `json:"timestamp-ms"`

	// ManifestList is the path to the manifest list file.
	ManifestList string `json:"manifest-list"`

	// Summary contains snapshot summary metadata.
	Summary map[string]string `json:"summary,omitempty"`
}

// CommittedAt returns the snapshot commit time.
func (s Snapshot) CommittedAt() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Operation returns the snapshot operation recorded in its summary (append, overwrite, ...).
func (s Snapshot) Operation() string {
	return s.Summary["operation"]
}

// TableMetadata represents Iceberg table metadata.
type TableMetadata struct {
	// FormatVersion is the Iceberg format version (1 or 2).
	FormatVersion int `json:"format-version"`

	// TableUUID is the table's unique identifier.
	TableUUID string `json:"table-uuid"`

	// Location is the table's base location in storage.
	Location string `json:"location"`

	// LastUpdatedMs is the last update timestamp.
	LastUpdatedMs int64 `json:"last-updated-ms"`

	// Schemas is the list of schemas.
	Schemas []Schema `json:"schemas"`

	// CurrentSchemaID is the current schema ID.
	CurrentSchemaID int `json:"current-schema-id"`

	// PartitionSpecs is the list of partition specifications.
	PartitionSpecs []PartitionSpec `json:"partition-specs"`

	// DefaultSpecID is the default partition spec ID.
	DefaultSpecID int `json:"default-spec-id"`

	// Properties contains table properties.
	Properties map[string]string `json:"properties,omitempty"`

	// CurrentSnapshotID is the current snapshot ID.
	CurrentSnapshotID int64 `json:"current-snapshot-id,omitempty"`

	// Snapshots is the list of snapshots.
	Snapshots []Snapshot `json:"snapshots,omitempty"`
}

// CurrentSchema returns the schema referenced by CurrentSchemaID.
func (m *TableMetadata) CurrentSchema() (Schema, bool) {
	for _, s := range m.Schemas {
		if s.SchemaID == m.CurrentSchemaID {
			return s, true
		}
	}
	return Schema{}, false
}

// SnapshotByID returns the retained snapshot with the given id.
func (m *TableMetadata) SnapshotByID(id int64) (Snapshot, bool) {
	for _, s := range m.Snapshots {
		if s.SnapshotID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Lineage returns the ancestry of the current snapshot, oldest first. The
// walk stops at the first parent that is no longer retained.
func (m *TableMetadata) Lineage() []Snapshot {
	if m.CurrentSnapshotID <= 0 {
		return nil
	}

	byID := make(map[int64]Snapshot, len(m.Snapshots))
	for _, s := range m.Snapshots {
		byID[s.SnapshotID] = s
	}

	var reversed []Snapshot
	for id := m.CurrentSnapshotID; id > 0; {
		s, ok := byID[id]
		if !ok {
			break
		}
		reversed = append(reversed, s)
		id = s.ParentSnapshotID
	}

	lineage := make([]Snapshot, len(reversed))
	for i, s := range reversed {
		lineage[len(reversed)-1-i] = s
	}
	return lineage
}

// TableIdentifier identifies a table within a namespace.
type TableIdentifier struct {
	// Namespace is the namespace name.
	Namespace string

	// Name is the table name.
	Name string
}

// String returns the fully qualified table name.
func (t TableIdentifier) String() string {
	return t.Namespace + "." + t.Name
}

// ParseTableIdentifier parses a "namespace.table" string.
func ParseTableIdentifier(s string) (TableIdentifier, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return TableIdentifier{}, fmt.Errorf("invalid table identifier %q: expected namespace.table", s)
	}
	return TableIdentifier{Namespace: s[:idx], Name: s[idx+1:]}, nil
}
