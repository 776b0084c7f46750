package testutil

import (
	"time"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Epoch is the reference instant fixtures are built around.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// At returns Epoch shifted by d.
func At(d time.Duration) time.Time {
	return Epoch.Add(d)
}

// Ref builds a raw table reference.
func Ref(project, dataset, table string) core.RawTableRef {
	return core.RawTableRef{ProjectID: project, DatasetID: dataset, TableID: table}
}

// TableOption customizes a raw table.
type TableOption func(*core.RawTable)

// Table builds a raw catalog entry of type TABLE.
func Table(ref core.RawTableRef, opts ...TableOption) core.RawTable {
	t := core.RawTable{TableReference: ref, Type: "TABLE"}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// AsView marks the table as a view.
func AsView() TableOption {
	return func(t *core.RawTable) { t.Type = "VIEW" }
}

// PartitionedBy adds day partitioning on field; an empty field means
// ingestion-time partitioning.
func PartitionedBy(field string) TableOption {
	return func(t *core.RawTable) {
		t.TimePartitioning = &core.RawTimePartitioning{Type: "DAY", Field: field}
	}
}

// ClusteredBy adds clustering fields.
func ClusteredBy(fields ...string) TableOption {
	return func(t *core.RawTable) { t.Clustering = &core.RawClustering{Fields: fields} }
}

// InLocation sets the table location.
func InLocation(location string) TableOption {
	return func(t *core.RawTable) { t.Location = location }
}

// WithLabels sets table labels.
func WithLabels(labels map[string]string) TableOption {
	return func(t *core.RawTable) { t.Labels = labels }
}

// WithFields sets the schema.
func WithFields(fields ...core.RawField) TableOption {
	return func(t *core.RawTable) { t.Schema = &core.RawSchema{Fields: fields} }
}

// JobOption customizes a raw job.
type JobOption func(*core.RawJob)

// Job builds a successful query job writing dest.
func Job(id string, dest core.RawTableRef, sql string, at time.Time, opts ...JobOption) core.RawJob {
	d := dest
	j := core.RawJob{
		JobReference: core.RawJobReference{ProjectID: dest.ProjectID, JobID: id},
		Configuration: core.RawJobConfiguration{
			JobType: "QUERY",
			Query:   &core.RawQueryConfig{Query: sql, DestinationTable: &d},
		},
		Statistics: core.RawJobStatistics{CreationTime: core.Int64String(at.UnixMilli())},
		Status:     core.RawJobStatus{State: "DONE"},
	}
	for _, opt := range opts {
		opt(&j)
	}
	return j
}

// Referencing declares the tables the job read.
func Referencing(refs ...core.RawTableRef) JobOption {
	return func(j *core.RawJob) {
		j.Statistics.Query = &core.RawQueryStatistics{ReferencedTables: refs}
	}
}

// FailedWith marks the job as failed.
func FailedWith(reason string) JobOption {
	return func(j *core.RawJob) {
		j.Status.ErrorResult = &core.RawJobError{Reason: reason, Message: reason}
	}
}

// OfType overrides the job type.
func OfType(jobType string) JobOption {
	return func(j *core.RawJob) { j.Configuration.JobType = jobType }
}

// WithoutDestination clears the destination table.
func WithoutDestination() JobOption {
	return func(j *core.RawJob) { j.Configuration.Query.DestinationTable = nil }
}

// Snapshot bundles raw records for a pair.
func Snapshot(pair core.Pair, tables []core.RawTable, jobs []core.RawJob) *core.RawSnapshot {
	return &core.RawSnapshot{Pair: pair, Tables: tables, Jobs: jobs}
}
