package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is everything the in-memory store knows about one person.
type Record struct {
	Patient
	SystemAccount bool
	// Aliases are the person's other non-voided names.
	Aliases     []PersonName
	Addresses   []Address
	Identifiers []Identifier
	Encounters  []Encounter
	States      []ProgramState
}

// MemoryStore is a Store over records held in memory. Name codes are
// computed on the fly with the configured encoder.
type MemoryStore struct {
	mu      sync.RWMutex
	encoder NameEncoder
	records map[int64]*Record
}

func NewMemoryStore(enc NameEncoder) *MemoryStore {
	return &MemoryStore{encoder: enc, records: make(map[int64]*Record)}
}

// Put adds or replaces a record.
func (s *MemoryStore) Put(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) AllPatientIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) GetPatients(_ context.Context, ids []int64) ([]*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := NewCohort(ids...).MemberIDs()
	patients := make([]*Patient, 0, len(sorted))
	for _, id := range sorted {
		if r, ok := s.records[id]; ok {
			p := r.Patient
			patients = append(patients, &p)
		}
	}
	return patients, nil
}

func (s *MemoryStore) GetPatient(_ context.Context, id int64) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	p := r.Patient
	return &p, nil
}

// names lists the preferred name followed by the aliases.
func (r *Record) names() []PersonName {
	names := make([]PersonName, 0, 1+len(r.Aliases))
	names = append(names, PersonName{PersonID: r.ID, GivenName: r.GivenName, FamilyName: r.FamilyName})
	for _, a := range r.Aliases {
		a.PersonID = r.ID
		names = append(names, a)
	}
	return names
}

func (s *MemoryStore) PersonNames(_ context.Context, personID int64) ([]PersonName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[personID]
	if !ok {
		return nil, nil
	}
	return r.names(), nil
}

func (s *MemoryStore) FindPhoneticMatches(_ context.Context, q PhoneticQuery) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make(map[int64]string)
	if ref, ok := s.records[q.ReferenceID]; ok && ref.SystemAccount {
		return matches, nil
	}
	given, family := q.CandidateCodes()
	if given == "" || family == "" {
		return matches, nil
	}
	for _, id := range q.CandidateIDs {
		if id == q.ReferenceID {
			continue
		}
		r, ok := s.records[id]
		if !ok || r.SystemAccount {
			continue
		}
		for _, n := range r.names() {
			if s.encoder.Encode(n.GivenName) == given && s.encoder.Encode(n.FamilyName) == family {
				matches[id] = r.Gender
				break
			}
		}
	}
	return matches, nil
}

func (s *MemoryStore) PatientsWithEncounters(_ context.Context, encounterTypeIDs []int64) (*Cohort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := NewCohort(encounterTypeIDs...)
	c := NewCohort()
	for id, r := range s.records {
		for _, e := range r.Encounters {
			if types.Contains(e.TypeID) {
				c.Add(id)
				break
			}
		}
	}
	return c, nil
}

func (s *MemoryStore) HasIdentifierOfType(_ context.Context, patientID, identifierTypeID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[patientID]
	if !ok {
		return false, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	for _, ident := range r.Identifiers {
		if ident.TypeID == identifierTypeID && strings.TrimSpace(ident.Value) != "" {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Addresses(_ context.Context, patientID int64) ([]Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	addrs := append([]Address(nil), r.Addresses...)
	sort.SliceStable(addrs, func(i, j int) bool { return addrs[i].Preferred && !addrs[j].Preferred })
	return addrs, nil
}

func (s *MemoryStore) Encounters(_ context.Context, patientID int64, encounterTypeIDs []int64) ([]Encounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	types := NewCohort(encounterTypeIDs...)
	var encs []Encounter
	for _, e := range r.Encounters {
		if types.Len() == 0 || types.Contains(e.TypeID) {
			encs = append(encs, e)
		}
	}
	sort.SliceStable(encs, func(i, j int) bool {
		if encs[i].Datetime.Equal(encs[j].Datetime) {
			return encs[i].ID < encs[j].ID
		}
		return encs[i].Datetime.Before(encs[j].Datetime)
	})
	return encs, nil
}

func (s *MemoryStore) CurrentState(_ context.Context, patientID, workflowID int64, asOf time.Time) (*ProgramState, error) {
	if workflowID == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	var best *ProgramState
	for i := range r.States {
		st := &r.States[i]
		if st.WorkflowID != workflowID || st.StartDate.After(asOf) {
			continue
		}
		if best == nil || !st.StartDate.Before(best.StartDate) {
			best = st
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

// ListNames and SaveNameCodes let the store stand in for the PostgreSQL
// name-code index. Saved codes are discarded: this store always encodes
// names on demand.
func (s *MemoryStore) ListNames(_ context.Context) ([]PersonName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var names []PersonName
	for _, id := range ids {
		for _, n := range s.records[id].names() {
			n.NameID = int64(len(names) + 1)
			names = append(names, n)
		}
	}
	return names, nil
}

func (s *MemoryStore) SaveNameCodes(_ context.Context, _ []NameCode) error {
	return nil
}
