package core

import "time"

// TableKind distinguishes tables from views.
type TableKind string

// Table kinds.
const (
	KindTable TableKind = "TABLE"
	KindView  TableKind = "VIEW"
)

// IngestionTimeField is the pseudo column of ingestion-time partitioned tables.
const IngestionTimeField = "_PARTITIONTIME"

// Column is one schema field. Nested RECORD columns carry Fields.
type Column struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Mode        string   `json:"mode,omitempty"`
	Description string   `json:"description,omitempty"`
	PolicyTags  []string `json:"policy_tags,omitempty"`
	Fields      []Column `json:"fields,omitempty"`
}

// Partitioning describes time partitioning of a table.
type Partitioning struct {
	Field        string `json:"field,omitempty"`
	Type         string `json:"type"`
	ExpirationMs int64  `json:"expiration_ms,omitempty"`
}

// FilterField returns the column a time-bounded filter would use.
func (p *Partitioning) FilterField() string {
	if p == nil {
		return ""
	}
	if p.Field == "" {
		return IngestionTimeField
	}
	return p.Field
}

// ExpirationDays converts the partition expiration to whole days.
func (p *Partitioning) ExpirationDays() int64 {
	if p == nil || p.ExpirationMs <= 0 {
		return 0
	}
	return p.ExpirationMs / (24 * 60 * 60 * 1000)
}

// TableDescriptor is the normalized catalog entry for one table.
type TableDescriptor struct {
	Ref          TableRef          `json:"ref"`
	Location     string            `json:"location,omitempty"`
	Kind         TableKind         `json:"kind"`
	Schema       []Column          `json:"schema,omitempty"`
	Partitioning *Partitioning     `json:"partitioning,omitempty"`
	Clustering   []string          `json:"clustering,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Description  string            `json:"description,omitempty"`
}

// QueryStatus is the terminal outcome of a query job.
type QueryStatus string

// Query statuses.
const (
	QuerySuccess QueryStatus = "SUCCESS"
	QueryFailed  QueryStatus = "FAILED"
)

// QueryRecord is one normalized historical query job.
type QueryRecord struct {
	JobID         string      `json:"job_id"`
	Timestamp     time.Time   `json:"timestamp"`
	RawSQL        string      `json:"raw_sql"`
	NormalizedSQL string      `json:"normalized_sql"`
	Destination   TableRef    `json:"destination"`
	Referenced    []TableRef  `json:"referenced,omitempty"`
	Status        QueryStatus `json:"status"`
	User          string      `json:"user,omitempty"`
}

// Newer reports whether q should win over o as a representative:
// later timestamp first, then the lexicographically smaller job id.
func (q *QueryRecord) Newer(o *QueryRecord) bool {
	if !q.Timestamp.Equal(o.Timestamp) {
		return q.Timestamp.After(o.Timestamp)
	}
	return q.JobID < o.JobID
}
