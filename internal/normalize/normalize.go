// Package normalize turns raw warehouse records into table descriptors and
// query records. Bad records are dropped one at a time and reported; they
// never abort the pair.
package normalize

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
	"github.com/leapstack-labs/dfmigrate/pkg/sqltext"
)

// Result holds the normalized records of one pair.
type Result struct {
	Tables  []*core.TableDescriptor
	Queries []*core.QueryRecord
	Errors  []*core.NormalizationError
	// Skipped counts jobs ignored without error (non-query jobs and
	// writes to anonymous result datasets).
	Skipped int
}

// Normalizer converts raw snapshots.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger discards output.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Normalizer{logger: logger}
}

// Normalize converts every raw record of snap. Output slices are sorted by
// table identity and job id respectively.
func (n *Normalizer) Normalize(pair core.Pair, snap *core.RawSnapshot) *Result {
	res := &Result{}
	log := n.logger.With(slog.String("project", pair.Project), slog.String("location", pair.Location))

	reject := func(err *core.NormalizationError) {
		res.Errors = append(res.Errors, err)
		log.Warn("record dropped", slog.String("job_id", err.JobID), slog.String("table", err.Table), slog.String("reason", err.Reason))
	}

	seenTables := make(map[core.TableRef]bool)
	for i := range snap.Tables {
		desc, err := normalizeTable(pair, &snap.Tables[i])
		if err != nil {
			reject(err)
			continue
		}
		if seenTables[desc.Ref] {
			reject(&core.NormalizationError{Table: desc.Ref.String(), Reason: "duplicate table"})
			continue
		}
		seenTables[desc.Ref] = true
		res.Tables = append(res.Tables, desc)
	}

	seenJobs := make(map[string]bool)
	for i := range snap.Jobs {
		job := &snap.Jobs[i]
		if t := job.Configuration.JobType; t != "" && !strings.EqualFold(t, "QUERY") {
			res.Skipped++
			log.Debug("skipping non-query job", slog.String("job_id", job.JobReference.JobID), slog.String("type", t))
			continue
		}
		if dest := job.Configuration.Query; dest != nil && dest.DestinationTable != nil &&
			strings.HasPrefix(dest.DestinationTable.DatasetID, "_") {
			res.Skipped++
			log.Debug("skipping anonymous destination", slog.String("job_id", job.JobReference.JobID))
			continue
		}

		rec, err := normalizeJob(pair, job)
		if err != nil {
			reject(err)
			continue
		}
		if seenJobs[rec.JobID] {
			reject(&core.NormalizationError{JobID: rec.JobID, Reason: "duplicate job id"})
			continue
		}
		seenJobs[rec.JobID] = true
		res.Queries = append(res.Queries, rec)
	}

	slices.SortFunc(res.Tables, func(a, b *core.TableDescriptor) int { return a.Ref.Compare(b.Ref) })
	slices.SortFunc(res.Queries, func(a, b *core.QueryRecord) int { return strings.Compare(a.JobID, b.JobID) })

	log.Debug("normalized",
		slog.Int("tables", len(res.Tables)),
		slog.Int("queries", len(res.Queries)),
		slog.Int("dropped", len(res.Errors)),
		slog.Int("skipped", res.Skipped))
	return res
}

func normalizeTable(pair core.Pair, raw *core.RawTable) (*core.TableDescriptor, *core.NormalizationError) {
	ref := raw.TableReference.Ref()
	if ref.IsZero() {
		return nil, &core.NormalizationError{Table: ref.String(), Reason: "incomplete table reference"}
	}
	if raw.Location != "" && !strings.EqualFold(raw.Location, pair.Location) {
		return nil, &core.NormalizationError{
			Table:  ref.String(),
			Reason: "table location " + raw.Location + " does not match " + pair.Location,
		}
	}

	desc := &core.TableDescriptor{
		Ref:         ref,
		Location:    pair.Location,
		Kind:        core.KindTable,
		Schema:      convertFields(raw.Schema),
		Description: raw.Description,
	}
	switch strings.ToUpper(raw.Type) {
	case "VIEW", "MATERIALIZED_VIEW":
		desc.Kind = core.KindView
	}
	if tp := raw.TimePartitioning; tp != nil {
		typ := tp.Type
		if typ == "" {
			typ = "DAY"
		}
		desc.Partitioning = &core.Partitioning{Field: tp.Field, Type: typ, ExpirationMs: int64(tp.ExpirationMs)}
	}
	if raw.Clustering != nil && len(raw.Clustering.Fields) > 0 {
		desc.Clustering = slices.Clone(raw.Clustering.Fields)
	}
	if len(raw.Labels) > 0 {
		desc.Labels = maps.Clone(raw.Labels)
	}
	return desc, nil
}

func convertFields(schema *core.RawSchema) []core.Column {
	if schema == nil {
		return nil
	}
	return convertFieldList(schema.Fields)
}

func convertFieldList(fields []core.RawField) []core.Column {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]core.Column, len(fields))
	for i, f := range fields {
		cols[i] = core.Column{
			Name:        f.Name,
			Type:        f.Type,
			Mode:        f.Mode,
			Description: f.Description,
			Fields:      convertFieldList(f.Fields),
		}
		if f.PolicyTags != nil && len(f.PolicyTags.Names) > 0 {
			cols[i].PolicyTags = slices.Clone(f.PolicyTags.Names)
		}
	}
	return cols
}

func normalizeJob(pair core.Pair, job *core.RawJob) (*core.QueryRecord, *core.NormalizationError) {
	id := job.JobReference.JobID
	if id == "" {
		return nil, &core.NormalizationError{Reason: "missing job id"}
	}
	if loc := job.JobReference.Location; loc != "" && !strings.EqualFold(loc, pair.Location) {
		return nil, &core.NormalizationError{JobID: id, Reason: "job location " + loc + " does not match " + pair.Location}
	}

	q := job.Configuration.Query
	if q == nil || strings.TrimSpace(q.Query) == "" {
		return nil, &core.NormalizationError{JobID: id, Reason: "empty SQL"}
	}
	if q.DestinationTable == nil || q.DestinationTable.Ref().IsZero() {
		return nil, &core.NormalizationError{JobID: id, Reason: "missing destination"}
	}
	dest := q.DestinationTable.Ref()
	if dest.Project != pair.Project {
		return nil, &core.NormalizationError{JobID: id, Reason: "destination " + dest.String() + " outside project " + pair.Project}
	}

	rec := &core.QueryRecord{
		JobID:         id,
		Timestamp:     job.CreatedAt(),
		RawSQL:        q.Query,
		NormalizedSQL: sqltext.Normalize(q.Query),
		Destination:   dest,
		Referenced:    referenced(job),
		Status:        core.QueryFailed,
		User:          job.UserEmail,
	}
	if job.Status.ErrorResult == nil && (job.Status.State == "" || strings.EqualFold(job.Status.State, "DONE")) {
		rec.Status = core.QuerySuccess
	}
	return rec, nil
}

// referenced returns the declared table references, de-duplicated and sorted.
func referenced(job *core.RawJob) []core.TableRef {
	if job.Statistics.Query == nil {
		return nil
	}
	var refs []core.TableRef
	for _, r := range job.Statistics.Query.ReferencedTables {
		ref := r.Ref()
		if ref.IsZero() {
			continue
		}
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, core.TableRef.Compare)
	return slices.Compact(refs)
}
