package patient

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// initialEncoder keys names by their upper-cased first letter so these
// tests do not depend on a particular phonetic algorithm.
type initialEncoder struct{}

func (initialEncoder) Encode(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1])
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestMemoryStore() *MemoryStore {
	s := NewMemoryStore(initialEncoder{})
	end := day(2021, time.June, 30)
	s.Put(&Record{
		Patient: Patient{ID: 1, GivenName: "Jon", FamilyName: "Banda", Gender: "M"},
		Addresses: []Address{
			{PersonID: 1, CityVillage: "Old village"},
			{PersonID: 1, CityVillage: "Chifunga", Preferred: true},
		},
		Identifiers: []Identifier{{PatientID: 1, TypeID: 4, Value: "NNO 1"}},
		Encounters: []Encounter{
			{ID: 12, PatientID: 1, TypeID: 10, TypeName: "ART_FOLLOWUP", Datetime: day(2022, time.May, 1)},
			{ID: 11, PatientID: 1, TypeID: 10, TypeName: "ART_INITIAL", Datetime: day(2020, time.January, 1)},
			{ID: 13, PatientID: 1, TypeID: 20, TypeName: "TB_INITIAL", Datetime: day(2019, time.March, 1)},
		},
		States: []ProgramState{
			{PatientID: 1, WorkflowID: 1, StateName: "Pre-ART", StartDate: day(2019, time.March, 1), EndDate: &end},
			{PatientID: 1, WorkflowID: 1, StateName: "Died", StartDate: day(2030, time.January, 1)},
			{PatientID: 1, WorkflowID: 2, StateName: "Cured", StartDate: day(2021, time.January, 1)},
		},
	})
	s.Put(&Record{Patient: Patient{ID: 2, GivenName: "John", FamilyName: "Bwanali", Gender: "M"},
		Encounters: []Encounter{{ID: 21, PatientID: 2, TypeID: 20, Datetime: day(2021, time.March, 1)}}})
	s.Put(&Record{Patient: Patient{ID: 3, GivenName: "Bob", FamilyName: "Jere", Gender: "M"}})
	s.Put(&Record{Patient: Patient{ID: 4, GivenName: "Jane", FamilyName: "Banda", Gender: "F"}, SystemAccount: true})
	return s
}

func TestMemoryStore_AllPatientIDs(t *testing.T) {
	ids, err := newTestMemoryStore().AllPatientIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3, 4}) {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestMemoryStore_GetPatients(t *testing.T) {
	s := newTestMemoryStore()
	ps, err := s.GetPatients(context.Background(), []int64{3, 99, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) != 2 || ps[0].ID != 1 || ps[1].ID != 3 {
		t.Errorf("expected patients 1 and 3 in order, got %+v", ps)
	}

	ps[0].GivenName = "changed"
	p, _ := s.GetPatient(context.Background(), 1)
	if p.GivenName != "Jon" {
		t.Error("returned patient aliases store record")
	}
}

func TestMemoryStore_GetPatient_NotFound(t *testing.T) {
	_, err := newTestMemoryStore().GetPatient(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_FindPhoneticMatches(t *testing.T) {
	s := newTestMemoryStore()
	ctx := context.Background()
	all := []int64{1, 2, 3, 4}

	direct, err := s.FindPhoneticMatches(ctx, PhoneticQuery{ReferenceID: 1, GivenCode: "J", FamilyCode: "B", CandidateIDs: all})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(direct, map[int64]string{2: "M"}) {
		t.Errorf("direct: unexpected matches %v", direct)
	}

	swapped, err := s.FindPhoneticMatches(ctx, PhoneticQuery{ReferenceID: 1, GivenCode: "J", FamilyCode: "B", Pairing: PairingSwapped, CandidateIDs: all})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(swapped, map[int64]string{3: "M"}) {
		t.Errorf("swapped: unexpected matches %v", swapped)
	}

	limited, _ := s.FindPhoneticMatches(ctx, PhoneticQuery{ReferenceID: 1, GivenCode: "J", FamilyCode: "B", CandidateIDs: []int64{1, 3}})
	if len(limited) != 0 {
		t.Errorf("expected no matches outside candidate ids, got %v", limited)
	}
}

func TestMemoryStore_FindPhoneticMatches_SystemAccountReference(t *testing.T) {
	s := newTestMemoryStore()
	m, err := s.FindPhoneticMatches(context.Background(), PhoneticQuery{ReferenceID: 4, GivenCode: "J", FamilyCode: "B", CandidateIDs: []int64{1, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("system account reference must not match, got %v", m)
	}
}

func TestMemoryStore_FindPhoneticMatches_EmptyCode(t *testing.T) {
	s := newTestMemoryStore()
	m, _ := s.FindPhoneticMatches(context.Background(), PhoneticQuery{ReferenceID: 9, GivenCode: "", FamilyCode: "B", CandidateIDs: []int64{1, 2}})
	if len(m) != 0 {
		t.Errorf("empty code must not match, got %v", m)
	}
}

func TestMemoryStore_PatientsWithEncounters(t *testing.T) {
	s := newTestMemoryStore()
	c, err := s.PatientsWithEncounters(context.Background(), []int64{20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(c.MemberIDs(), []int64{1, 2}) {
		t.Errorf("unexpected cohort: %v", c.MemberIDs())
	}
}

func TestMemoryStore_HasIdentifierOfType(t *testing.T) {
	s := newTestMemoryStore()
	ctx := context.Background()
	if ok, _ := s.HasIdentifierOfType(ctx, 1, 4); !ok {
		t.Error("expected patient 1 to have identifier type 4")
	}
	if ok, _ := s.HasIdentifierOfType(ctx, 2, 4); ok {
		t.Error("patient 2 has no identifiers")
	}
}

func TestMemoryStore_AddressesPreferredFirst(t *testing.T) {
	addrs, err := newTestMemoryStore().Addresses(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 2 || addrs[0].CityVillage != "Chifunga" {
		t.Errorf("expected preferred address first, got %+v", addrs)
	}
}

func TestMemoryStore_EncountersOrdered(t *testing.T) {
	s := newTestMemoryStore()
	encs, err := s.Encounters(context.Background(), 1, []int64{10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(encs) != 2 || encs[0].ID != 11 || encs[1].ID != 12 {
		t.Errorf("unexpected encounters: %+v", encs)
	}

	all, _ := s.Encounters(context.Background(), 1, nil)
	if len(all) != 3 || all[0].ID != 13 {
		t.Errorf("expected all encounters oldest first, got %+v", all)
	}
}

func TestMemoryStore_CurrentState(t *testing.T) {
	s := newTestMemoryStore()
	ctx := context.Background()
	asOf := day(2024, time.January, 1)

	st, err := s.CurrentState(ctx, 1, 1, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st == nil || st.StateName != "Pre-ART" {
		t.Fatalf("expected Pre-ART, got %+v", st)
	}
	if !st.EffectiveDate().Equal(day(2021, time.June, 30)) {
		t.Errorf("expected end date as effective date, got %v", st.EffectiveDate())
	}

	st, _ = s.CurrentState(ctx, 1, 2, asOf)
	if st == nil || !st.EffectiveDate().Equal(day(2021, time.January, 1)) {
		t.Errorf("expected open state dated by its start, got %+v", st)
	}

	st, _ = s.CurrentState(ctx, 3, 1, asOf)
	if st != nil {
		t.Errorf("expected no state, got %+v", st)
	}
}

func TestMemoryStore_ListNames(t *testing.T) {
	names, err := newTestMemoryStore().ListNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 4 || names[0].GivenName != "Jon" {
		t.Errorf("unexpected names: %+v", names)
	}
}

func TestMemoryStore_Aliases(t *testing.T) {
	s := NewMemoryStore(initialEncoder{})
	s.Put(&Record{
		Patient: Patient{ID: 1, GivenName: "Mary", FamilyName: "Phiri", Gender: "F"},
		Aliases: []PersonName{{GivenName: "Mary", FamilyName: "Banda"}},
	})
	s.Put(&Record{Patient: Patient{ID: 2, GivenName: "Grace", FamilyName: "Jere", Gender: "F"}})
	ctx := context.Background()

	names, err := s.PersonNames(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0].FamilyName != "Phiri" || names[1].FamilyName != "Banda" || names[1].PersonID != 1 {
		t.Errorf("unexpected names: %+v", names)
	}
	if names, _ := s.PersonNames(ctx, 9); len(names) != 0 {
		t.Errorf("expected no names for unknown person, got %+v", names)
	}

	m, _ := s.FindPhoneticMatches(ctx, PhoneticQuery{ReferenceID: 2, GivenCode: "M", FamilyCode: "B", CandidateIDs: []int64{1}})
	if !reflect.DeepEqual(m, map[int64]string{1: "F"}) {
		t.Errorf("expected a match on the alias, got %v", m)
	}

	all, _ := s.ListNames(ctx)
	if len(all) != 3 || all[1].PersonID != 1 || all[1].FamilyName != "Banda" || all[2].PersonID != 2 {
		t.Errorf("unexpected name list: %+v", all)
	}
	for i, n := range all {
		if n.NameID != int64(i+1) {
			t.Errorf("name %d: expected id %d, got %d", i, i+1, n.NameID)
		}
	}
}

func TestPhoneticQuery_CandidateCodes(t *testing.T) {
	q := PhoneticQuery{GivenCode: "J500", FamilyCode: "B530"}
	if g, f := q.CandidateCodes(); g != "J500" || f != "B530" {
		t.Errorf("direct: got %s/%s", g, f)
	}
	q.Pairing = PairingSwapped
	if g, f := q.CandidateCodes(); g != "B530" || f != "J500" {
		t.Errorf("swapped: got %s/%s", g, f)
	}
	if PairingSwapped.String() != "swapped" || PairingDirect.String() != "direct" {
		t.Error("unexpected pairing names")
	}
}

func TestPatient_Age(t *testing.T) {
	b := day(1990, time.March, 2)
	p := &Patient{BirthDate: &b}
	if age, ok := p.Age(day(2024, time.March, 1)); !ok || age != 33 {
		t.Errorf("day before birthday: got %d, %v", age, ok)
	}
	if age, _ := p.Age(day(2024, time.March, 2)); age != 34 {
		t.Errorf("on birthday: got %d", age)
	}
	if _, ok := (&Patient{}).Age(time.Now()); ok {
		t.Error("unknown birth date should report ok=false")
	}
}
