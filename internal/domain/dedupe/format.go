package dedupe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pih/dupfinder/internal/domain/patient"
	"github.com/pih/dupfinder/internal/platform/reporting"
)

const (
	ReferenceColumn = "#"
	ErrorColumn     = "Error"

	dateLayout = "02-Jan-2006"
)

// CandidateColumn names the column of the n-th potential match, 1-based.
func CandidateColumn(n int) string {
	return "potential match_" + strconv.Itoa(n)
}

// DisplayOptions controls what the summary lines of each cell contain.
type DisplayOptions struct {
	// SummaryEncounterTypeIDs selects encounters for the first/last line.
	// Empty means all encounter types.
	SummaryEncounterTypeIDs []int64
	// WorkflowID selects the program workflow for the state line; 0 leaves
	// the line empty.
	WorkflowID int64
	// BaseURL is the EMR web root the dashboard and merge links point to.
	BaseURL string
	Now     func() time.Time
}

// Formatter renders matcher entries as report rows. It only reads from the
// store.
type Formatter struct {
	store  patient.Store
	opts   DisplayOptions
	logger zerolog.Logger
}

func NewFormatter(store patient.Store, opts DisplayOptions, logger zerolog.Logger) *Formatter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Formatter{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "dedupe.formatter").Logger(),
	}
}

// Summary is the display data of one patient.
type Summary struct {
	Name       string
	Gender     string
	Age        string
	Village    string
	Encounters string
	State      string
}

// Lines returns the summary as the four display lines of a cell.
func (s Summary) Lines() []string {
	return []string{
		s.Name,
		s.Gender + ", " + s.Age + ", " + s.Village,
		s.Encounters,
		s.State,
	}
}

func (s Summary) String() string {
	return strings.Join(s.Lines(), "\n")
}

// Summarize collects the display data of p.
func (f *Formatter) Summarize(ctx context.Context, p *patient.Patient) (Summary, error) {
	now := f.opts.Now()
	s := Summary{Name: p.DisplayName(), Gender: p.Gender}
	if age, ok := p.Age(now); ok {
		s.Age = strconv.Itoa(age)
	}

	addrs, err := f.store.Addresses(ctx, p.ID)
	if err != nil {
		return s, fmt.Errorf("load addresses: %w", err)
	}
	if len(addrs) > 0 {
		s.Village = addrs[0].CityVillage
	}

	encs, err := f.store.Encounters(ctx, p.ID, f.opts.SummaryEncounterTypeIDs)
	if err != nil {
		return s, fmt.Errorf("load encounters: %w", err)
	}
	if len(encs) > 0 {
		first, last := encs[0], encs[len(encs)-1]
		s.Encounters = first.TypeName + "@" + first.Datetime.Format(dateLayout) +
			" - " + last.TypeName + "@" + last.Datetime.Format(dateLayout)
	}

	if f.opts.WorkflowID != 0 {
		st, err := f.store.CurrentState(ctx, p.ID, f.opts.WorkflowID, now)
		if err != nil {
			return s, fmt.Errorf("load program state: %w", err)
		}
		if st != nil {
			s.State = st.StateName + "@" + st.EffectiveDate().Format(dateLayout)
		}
	}
	return s, nil
}

// DashboardLink points at the EMR patient dashboard.
func (f *Formatter) DashboardLink(patientID int64) string {
	return f.opts.BaseURL + "/patientDashboard.form?patientId=" + strconv.FormatInt(patientID, 10)
}

// MergeLink opens the EMR merge form with the candidate first.
func (f *Formatter) MergeLink(referenceID, candidateID int64) string {
	q := url.Values{"patientId": {strconv.FormatInt(candidateID, 10), strconv.FormatInt(referenceID, 10)}}
	return f.opts.BaseURL + "/admin/patients/mergePatients.form?" + q.Encode()
}

// Format renders one entry. Error entries become a single error cell.
func (f *Formatter) Format(ctx context.Context, e Entry) (reporting.Row, error) {
	ref := e.Reference
	row := reporting.Row{Label: strconv.FormatInt(ref.ID, 10)}
	if e.Err != nil {
		return ErrorRow(ref.ID), nil
	}

	sum, err := f.Summarize(ctx, ref)
	if err != nil {
		return row, &DataAccessError{PatientID: ref.ID, Err: err}
	}
	row.Cells = append(row.Cells, reporting.Cell{
		Column: ReferenceColumn,
		Value:  sum.String(),
		Link:   f.DashboardLink(ref.ID),
	})

	for i, c := range e.Candidates {
		cand, err := f.store.GetPatient(ctx, c.CandidateID)
		if err != nil {
			return row, &DataAccessError{PatientID: ref.ID, Err: fmt.Errorf("load candidate %d: %w", c.CandidateID, err)}
		}
		csum, err := f.Summarize(ctx, cand)
		if err != nil {
			return row, &DataAccessError{PatientID: ref.ID, Err: fmt.Errorf("candidate %d: %w", c.CandidateID, err)}
		}
		row.Cells = append(row.Cells, reporting.Cell{
			Column: CandidateColumn(i + 1),
			Value:  csum.String(),
			Link:   f.MergeLink(ref.ID, cand.ID),
			Merge:  &reporting.MergeAction{ReferenceID: ref.ID, CandidateID: cand.ID},
		})
	}
	return row, nil
}

// ErrorRow is the row reported for a patient that could not be processed.
func ErrorRow(patientID int64) reporting.Row {
	return reporting.Row{
		Label: strconv.FormatInt(patientID, 10),
		Cells: []reporting.Cell{{
			Column: ErrorColumn,
			Value:  fmt.Sprintf("Error while loading patient %d", patientID),
		}},
	}
}

// FormatAll renders every entry of res. A patient whose row cannot be
// rendered is reported with an error row; only context cancellation stops
// the run.
func (f *Formatter) FormatAll(ctx context.Context, res *Result) ([]reporting.Row, error) {
	rows := make([]reporting.Row, 0, len(res.Entries))
	for _, e := range res.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := f.Format(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn().Err(err).Int64("patient_id", e.Reference.ID).Msg("format failed")
			row = ErrorRow(e.Reference.ID)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
