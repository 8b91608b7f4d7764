package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/pih/dupfinder/internal/domain/patient"
)

const (
	encTypeART       int64 = 10
	encTypeTB        int64 = 11
	idTypeARVNumber  int64 = 4
	workflowTreatmnt int64 = 1
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datep(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

// newFixtureStore holds the Jon/John Banda family of records:
//
//	1 Jon Banda M     encounters ART, state "On antiretrovirals"
//	2 John Banda M    ART encounter, ARV number
//	3 Banda Jon M     names swapped
//	4 Jon Banda F
//	5 Jon Banda (no gender), ART encounter without ARV number
//	6 Mary Phiri F
//	7 Jon Banda M     system account
func newFixtureStore() *patient.MemoryStore {
	s := patient.NewMemoryStore(Soundex{})
	s.Put(&patient.Record{
		Patient:   patient.Patient{ID: 1, GivenName: "Jon", FamilyName: "Banda", Gender: "M", BirthDate: datep(1990, time.March, 2)},
		Addresses: []patient.Address{{PersonID: 1, CityVillage: "Chifunga", Preferred: true}},
		Encounters: []patient.Encounter{
			{ID: 101, PatientID: 1, TypeID: encTypeTB, TypeName: "TB_INITIAL", Datetime: date(2019, time.June, 1)},
			{ID: 102, PatientID: 1, TypeID: encTypeART, TypeName: "ART_INITIAL", Datetime: date(2020, time.January, 5)},
			{ID: 103, PatientID: 1, TypeID: encTypeART, TypeName: "ART_FOLLOWUP", Datetime: date(2023, time.August, 17)},
		},
		States: []patient.ProgramState{
			{PatientID: 1, WorkflowID: workflowTreatmnt, StateName: "Pre-ART", StartDate: date(2019, time.June, 1), EndDate: datep(2020, time.January, 5)},
			{PatientID: 1, WorkflowID: workflowTreatmnt, StateName: "On antiretrovirals", StartDate: date(2020, time.January, 5)},
		},
	})
	s.Put(&patient.Record{
		Patient:     patient.Patient{ID: 2, GivenName: "John", FamilyName: "Banda", Gender: "m", BirthDate: datep(1989, time.December, 30)},
		Addresses:   []patient.Address{{PersonID: 2, CityVillage: "Lisungwi", Preferred: true}},
		Identifiers: []patient.Identifier{{PatientID: 2, TypeID: idTypeARVNumber, Value: "NNO 1234"}},
		Encounters:  []patient.Encounter{{ID: 201, PatientID: 2, TypeID: encTypeART, TypeName: "ART_INITIAL", Datetime: date(2021, time.May, 9)}},
		States: []patient.ProgramState{
			{PatientID: 2, WorkflowID: workflowTreatmnt, StateName: "Transferred out", StartDate: date(2021, time.May, 9), EndDate: datep(2022, time.February, 1)},
		},
	})
	s.Put(&patient.Record{Patient: patient.Patient{ID: 3, GivenName: "Banda", FamilyName: "Jon", Gender: "M"}})
	s.Put(&patient.Record{Patient: patient.Patient{ID: 4, GivenName: "Jon", FamilyName: "Banda", Gender: "F"}})
	s.Put(&patient.Record{
		Patient:    patient.Patient{ID: 5, GivenName: "Jon", FamilyName: "Banda"},
		Encounters: []patient.Encounter{{ID: 501, PatientID: 5, TypeID: encTypeART, TypeName: "ART_INITIAL", Datetime: date(2022, time.July, 1)}},
	})
	s.Put(&patient.Record{Patient: patient.Patient{ID: 6, GivenName: "Mary", FamilyName: "Phiri", Gender: "F"}})
	s.Put(&patient.Record{Patient: patient.Patient{ID: 7, GivenName: "Jon", FamilyName: "Banda", Gender: "M"}, SystemAccount: true})
	return s
}

var errStoreDown = errors.New("store unavailable")

// faultyStore fails or panics on phonetic lookups for selected reference
// patients.
type faultyStore struct {
	patient.Store
	failFor  map[int64]bool
	panicFor map[int64]bool
}

func (s *faultyStore) FindPhoneticMatches(ctx context.Context, q patient.PhoneticQuery) (map[int64]string, error) {
	if s.panicFor[q.ReferenceID] {
		panic("corrupt name row")
	}
	if s.failFor[q.ReferenceID] {
		return nil, errStoreDown
	}
	return s.Store.FindPhoneticMatches(ctx, q)
}

// brokenAddressStore fails address lookups for one patient.
type brokenAddressStore struct {
	patient.Store
	patientID int64
}

func (s *brokenAddressStore) Addresses(ctx context.Context, id int64) ([]patient.Address, error) {
	if id == s.patientID {
		return nil, errStoreDown
	}
	return s.Store.Addresses(ctx, id)
}
