package patient

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a patient id does not resolve to a patient.
var ErrNotFound = errors.New("patient not found")

// Pairing selects which name codes of a candidate are compared with which
// name codes of the reference patient.
type Pairing int

const (
	// PairingDirect compares given with given and family with family.
	PairingDirect Pairing = iota
	// PairingSwapped compares given with family and family with given.
	PairingSwapped
)

func (p Pairing) String() string {
	if p == PairingSwapped {
		return "swapped"
	}
	return "direct"
}

// NameEncoder turns a name into a phonetic key.
type NameEncoder interface {
	Encode(name string) string
}

// PhoneticQuery asks for persons whose stored name codes match the
// reference patient's codes under Pairing. Only ids in CandidateIDs are
// considered and the reference itself is never returned.
type PhoneticQuery struct {
	ReferenceID  int64
	GivenCode    string
	FamilyCode   string
	Pairing      Pairing
	CandidateIDs []int64
}

// CandidateCodes returns the codes a candidate's given and family names
// must carry to match.
func (q PhoneticQuery) CandidateCodes() (given, family string) {
	if q.Pairing == PairingSwapped {
		return q.FamilyCode, q.GivenCode
	}
	return q.GivenCode, q.FamilyCode
}

// Store is the read-only patient data store the duplicate finder runs on.
type Store interface {
	// AllPatientIDs returns every non-voided patient id in ascending order.
	AllPatientIDs(ctx context.Context) ([]int64, error)
	// GetPatients resolves ids to patients in ascending id order. Unknown
	// ids are skipped.
	GetPatients(ctx context.Context, ids []int64) ([]*Patient, error)
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	// PersonNames returns every non-voided name of the person, preferred
	// name first.
	PersonNames(ctx context.Context, personID int64) ([]PersonName, error)

	// FindPhoneticMatches returns candidate id -> gender for persons matching q
	// that are real patients and not system accounts. The result is empty
	// when the reference patient itself is a system account.
	FindPhoneticMatches(ctx context.Context, q PhoneticQuery) (map[int64]string, error)
	PatientsWithEncounters(ctx context.Context, encounterTypeIDs []int64) (*Cohort, error)
	HasIdentifierOfType(ctx context.Context, patientID, identifierTypeID int64) (bool, error)

	Addresses(ctx context.Context, patientID int64) ([]Address, error)
	// Encounters returns the patient's encounters ordered by datetime. An
	// empty type list means all types.
	Encounters(ctx context.Context, patientID int64, encounterTypeIDs []int64) ([]Encounter, error)
	// CurrentState returns the most recent state started on or before asOf,
	// or nil when there is none.
	CurrentState(ctx context.Context, patientID, workflowID int64, asOf time.Time) (*ProgramState, error)
}

// NameCodeIndex maintains the stored phonetic codes of person names.
type NameCodeIndex interface {
	ListNames(ctx context.Context) ([]PersonName, error)
	SaveNameCodes(ctx context.Context, codes []NameCode) error
}
