package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Raw records mirror the warehouse REST representation. The warehouse
// encodes 64-bit integers as JSON strings, so those fields use Int64String.

// Int64String decodes an int64 given either as a JSON number or string.
type Int64String int64

// UnmarshalJSON implements json.Unmarshaler.
func (v *Int64String) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid int64 %s: %w", data, err)
	}
	*v = Int64String(n)
	return nil
}

// MarshalJSON implements json.Marshaler using the string form.
func (v Int64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(v), 10))
}

// RawTableRef is a table reference as returned by the warehouse.
type RawTableRef struct {
	ProjectID string `json:"projectId"`
	DatasetID string `json:"datasetId"`
	TableID   string `json:"tableId"`
}

// Ref converts the raw reference.
func (r RawTableRef) Ref() TableRef {
	return TableRef{Project: r.ProjectID, Dataset: r.DatasetID, Table: r.TableID}
}

// RawPolicyTags lists the policy tags attached to a field.
type RawPolicyTags struct {
	Names []string `json:"names,omitempty"`
}

// RawField is a schema field.
type RawField struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Mode        string         `json:"mode,omitempty"`
	Description string         `json:"description,omitempty"`
	PolicyTags  *RawPolicyTags `json:"policyTags,omitempty"`
	Fields      []RawField     `json:"fields,omitempty"`
}

// RawSchema is a table schema.
type RawSchema struct {
	Fields []RawField `json:"fields,omitempty"`
}

// RawTimePartitioning describes table partitioning.
type RawTimePartitioning struct {
	Type         string      `json:"type,omitempty"`
	Field        string      `json:"field,omitempty"`
	ExpirationMs Int64String `json:"expirationMs,omitempty"`
}

// RawClustering lists clustering fields.
type RawClustering struct {
	Fields []string `json:"fields,omitempty"`
}

// RawTable is a catalog entry.
type RawTable struct {
	TableReference   RawTableRef          `json:"tableReference"`
	Type             string               `json:"type,omitempty"`
	Location         string               `json:"location,omitempty"`
	Description      string               `json:"description,omitempty"`
	Schema           *RawSchema           `json:"schema,omitempty"`
	TimePartitioning *RawTimePartitioning `json:"timePartitioning,omitempty"`
	Clustering       *RawClustering       `json:"clustering,omitempty"`
	Labels           map[string]string    `json:"labels,omitempty"`
}

// RawJobReference identifies a job.
type RawJobReference struct {
	ProjectID string `json:"projectId,omitempty"`
	JobID     string `json:"jobId"`
	Location  string `json:"location,omitempty"`
}

// RawQueryConfig is the query part of a job configuration.
type RawQueryConfig struct {
	Query            string       `json:"query"`
	DestinationTable *RawTableRef `json:"destinationTable,omitempty"`
}

// RawJobConfiguration is a job configuration.
type RawJobConfiguration struct {
	JobType string          `json:"jobType,omitempty"`
	Query   *RawQueryConfig `json:"query,omitempty"`
}

// RawQueryStatistics carries the declared table references of a query.
type RawQueryStatistics struct {
	ReferencedTables []RawTableRef `json:"referencedTables,omitempty"`
}

// RawJobStatistics holds timing and query statistics.
type RawJobStatistics struct {
	CreationTime Int64String         `json:"creationTime"`
	EndTime      Int64String         `json:"endTime,omitempty"`
	Query        *RawQueryStatistics `json:"query,omitempty"`
}

// RawJobError is the error result of a failed job.
type RawJobError struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// RawJobStatus is the job state.
type RawJobStatus struct {
	State       string       `json:"state,omitempty"`
	ErrorResult *RawJobError `json:"errorResult,omitempty"`
}

// RawJob is one historical job.
type RawJob struct {
	JobReference  RawJobReference     `json:"jobReference"`
	Configuration RawJobConfiguration `json:"configuration"`
	Statistics    RawJobStatistics    `json:"statistics"`
	Status        RawJobStatus        `json:"status"`
	UserEmail     string              `json:"user_email,omitempty"`
}

// CreatedAt returns the job creation time.
func (j *RawJob) CreatedAt() time.Time {
	return time.UnixMilli(int64(j.Statistics.CreationTime)).UTC()
}

// RawSnapshot is everything collected for one pair.
type RawSnapshot struct {
	Pair   Pair
	Tables []RawTable
	Jobs   []RawJob
}
