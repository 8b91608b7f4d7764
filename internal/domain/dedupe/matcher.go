package dedupe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pih/dupfinder/internal/domain/patient"
)

// EligibilityFilter restricts candidates to patients with at least one
// encounter of EncounterTypeIDs and, when RequiredIdentifierTypeID is set,
// an identifier of that type. Candidates from a filtered pool are never
// members of the base cohort.
type EligibilityFilter struct {
	EncounterTypeIDs         []int64
	RequiredIdentifierTypeID int64
}

func (f *EligibilityFilter) active() bool {
	return f != nil && len(f.EncounterTypeIDs) > 0
}

// Request describes one matching run.
type Request struct {
	// Cohort holds the reference patients. Nil means every patient.
	Cohort *patient.Cohort
	// SwapNameOrder compares given names with family names and vice versa.
	SwapNameOrder bool
	Eligibility   *EligibilityFilter
	// Limit keeps only the first Limit reference patients by id when > 0.
	Limit int
	// Workers overrides the matcher default when > 0.
	Workers int
}

// MatchCandidate is one potential duplicate of a reference patient.
type MatchCandidate struct {
	ReferenceID int64  `json:"reference_id"`
	CandidateID int64  `json:"candidate_id"`
	Gender      string `json:"gender,omitempty"`
}

// Entry is the outcome for one reference patient: either candidates or an
// error.
type Entry struct {
	Reference  *patient.Patient
	Candidates []MatchCandidate
	Err        error
}

// Result holds the entries of a run in ascending reference id order.
// Reference patients without candidates are omitted.
type Result struct {
	RunID    uuid.UUID
	Swapped  bool
	Scanned  int
	PoolSize int
	Entries  []Entry
	Started  time.Time
	Elapsed  time.Duration
}

// ByPatient maps each reference patient to its candidate ids. Failed
// entries are left out.
func (r *Result) ByPatient() map[int64][]int64 {
	out := make(map[int64][]int64, len(r.Entries))
	for _, e := range r.Entries {
		if e.Err != nil {
			continue
		}
		ids := make([]int64, len(e.Candidates))
		for i, c := range e.Candidates {
			ids[i] = c.CandidateID
		}
		out[e.Reference.ID] = ids
	}
	return out
}

// Errors returns the per-patient failures of the run.
func (r *Result) Errors() []*DataAccessError {
	var out []*DataAccessError
	for _, e := range r.Entries {
		if e.Err == nil {
			continue
		}
		dae, ok := e.Err.(*DataAccessError)
		if !ok {
			dae = &DataAccessError{PatientID: e.Reference.ID, Err: e.Err}
		}
		out = append(out, dae)
	}
	return out
}

// Matcher finds potential duplicate patients by comparing phonetic codes of
// their names.
type Matcher struct {
	store   patient.Store
	enc     Encoder
	logger  zerolog.Logger
	workers int
}

type Option func(*Matcher)

// WithWorkers sets how many reference patients are processed concurrently.
func WithWorkers(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.workers = n
		}
	}
}

func NewMatcher(store patient.Store, enc Encoder, logger zerolog.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		store:   store,
		enc:     enc,
		logger:  logger.With().Str("component", "dedupe.matcher").Logger(),
		workers: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindDuplicates runs the matcher over the requested cohort. Failures for a
// single reference patient become error entries; only cohort resolution
// failures and context cancellation fail the whole run.
func (m *Matcher) FindDuplicates(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: uuid.New(), Swapped: req.SwapNameOrder, Started: time.Now()}
	log := m.logger.With().Str("run_id", res.RunID.String()).Logger()

	base, err := m.baseCohort(ctx, req)
	if err != nil {
		return nil, err
	}
	refs, err := m.store.GetPatients(ctx, base.MemberIDs())
	if err != nil {
		return nil, fmt.Errorf("load cohort patients: %w", err)
	}
	res.Scanned = len(refs)
	if len(refs) == 0 {
		res.Elapsed = time.Since(res.Started)
		return res, nil
	}

	pool, err := m.candidatePool(ctx, req.Eligibility, base)
	if err != nil {
		return nil, err
	}
	candidateIDs := pool.MemberIDs()
	res.PoolSize = len(candidateIDs)

	pairing := patient.PairingDirect
	if req.SwapNameOrder {
		pairing = patient.PairingSwapped
	}

	workers := m.workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	log.Info().Int("cohort", len(refs)).Int("pool", len(candidateIDs)).
		Str("pairing", pairing.String()).Int("workers", workers).Msg("duplicate search started")

	entries := make([]*Entry, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry := m.matchOne(gctx, ref, pairing, candidateIDs)
			if entry.Err != nil {
				if err := gctx.Err(); err != nil {
					return err
				}
				log.Warn().Err(entry.Err).Int64("patient_id", ref.ID).Msg("patient skipped")
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e == nil || (e.Err == nil && len(e.Candidates) == 0) {
			continue
		}
		res.Entries = append(res.Entries, *e)
	}
	res.Elapsed = time.Since(res.Started)
	log.Info().Int("matched", len(res.Entries)).Int("failed", len(res.Errors())).
		Dur("elapsed", res.Elapsed).Msg("duplicate search finished")
	return res, nil
}

func (m *Matcher) baseCohort(ctx context.Context, req Request) (*patient.Cohort, error) {
	base := req.Cohort
	if base == nil {
		ids, err := m.store.AllPatientIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load all patients: %w", err)
		}
		base = patient.NewCohort(ids...)
	}
	if req.Limit > 0 {
		base = base.Limit(req.Limit)
	}
	return base, nil
}

func (m *Matcher) candidatePool(ctx context.Context, f *EligibilityFilter, base *patient.Cohort) (*patient.Cohort, error) {
	if !f.active() {
		return base.Clone(), nil
	}
	pool, err := m.store.PatientsWithEncounters(ctx, f.EncounterTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("load eligible patients: %w", err)
	}
	if f.RequiredIdentifierTypeID != 0 {
		for _, id := range pool.MemberIDs() {
			ok, err := m.store.HasIdentifierOfType(ctx, id, f.RequiredIdentifierTypeID)
			if err != nil {
				return nil, fmt.Errorf("check identifier of patient %d: %w", id, err)
			}
			if !ok {
				pool.Remove(id)
			}
		}
	}
	pool.Subtract(base)
	return pool, nil
}

func (m *Matcher) matchOne(ctx context.Context, ref *patient.Patient, pairing patient.Pairing, candidateIDs []int64) (entry *Entry) {
	entry = &Entry{Reference: ref}
	defer func() {
		if r := recover(); r != nil {
			entry.Candidates = nil
			entry.Err = &DataAccessError{PatientID: ref.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if len(candidateIDs) == 0 {
		return entry
	}
	codes, err := m.referenceCodes(ctx, ref)
	if err != nil {
		entry.Err = &DataAccessError{PatientID: ref.ID, Err: err}
		return entry
	}
	matches := make(map[int64]string)
	for _, c := range codes {
		found, err := m.store.FindPhoneticMatches(ctx, patient.PhoneticQuery{
			ReferenceID:  ref.ID,
			GivenCode:    c.GivenCode,
			FamilyCode:   c.FamilyCode,
			Pairing:      pairing,
			CandidateIDs: candidateIDs,
		})
		if err != nil {
			entry.Err = &DataAccessError{PatientID: ref.ID, Err: err}
			return entry
		}
		for id, gender := range found {
			matches[id] = gender
		}
	}

	for id, gender := range matches {
		if id == ref.ID || !sameGender(ref.Gender, gender) {
			continue
		}
		entry.Candidates = append(entry.Candidates, MatchCandidate{ReferenceID: ref.ID, CandidateID: id, Gender: gender})
	}
	sort.Slice(entry.Candidates, func(i, j int) bool {
		return entry.Candidates[i].CandidateID < entry.Candidates[j].CandidateID
	})
	return entry
}

// referenceCodes encodes every non-voided name of ref, dropping names with
// an empty given or family code and repeated code pairs. The preferred
// name on ref is used when the store has no names for the person.
func (m *Matcher) referenceCodes(ctx context.Context, ref *patient.Patient) ([]patient.NameCode, error) {
	names, err := m.store.PersonNames(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("load names: %w", err)
	}
	if len(names) == 0 {
		names = []patient.PersonName{{PersonID: ref.ID, GivenName: ref.GivenName, FamilyName: ref.FamilyName}}
	}
	var codes []patient.NameCode
	seen := make(map[[2]string]bool, len(names))
	for _, n := range names {
		given, family := EncodeName(m.enc, n.GivenName, n.FamilyName)
		key := [2]string{given, family}
		if given == "" || family == "" || seen[key] {
			continue
		}
		seen[key] = true
		codes = append(codes, patient.NameCode{NameID: n.NameID, GivenCode: given, FamilyCode: family})
	}
	return codes, nil
}

// sameGender treats an empty gender on either side as matching anything.
func sameGender(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a == "" || b == "" || strings.EqualFold(a, b)
}
