package patient

import (
	"strings"
	"time"
)

// Patient is a read-only snapshot of a person registered as a patient.
// Names are the person's preferred (or first non-voided) name.
type Patient struct {
	ID         int64      `db:"patient_id" json:"id"`
	GivenName  string     `db:"given_name" json:"given_name"`
	FamilyName string     `db:"family_name" json:"family_name"`
	Gender     string     `db:"gender" json:"gender,omitempty"`
	BirthDate  *time.Time `db:"birthdate" json:"birth_date,omitempty"`
}

// DisplayName joins the given and family names.
func (p *Patient) DisplayName() string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName)
}

// Age returns the patient's age in whole years at asOf. The second value is
// false when the birth date is unknown.
func (p *Patient) Age(asOf time.Time) (int, bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	b := p.BirthDate.In(asOf.Location())
	age := asOf.Year() - b.Year()
	if asOf.Month() < b.Month() || (asOf.Month() == b.Month() && asOf.Day() < b.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age, true
}

// Address maps to the person_address table.
type Address struct {
	PersonID    int64  `db:"person_id" json:"person_id"`
	CityVillage string `db:"city_village" json:"village"`
	Preferred   bool   `db:"preferred" json:"preferred"`
}

// Identifier maps to the patient_identifier table.
type Identifier struct {
	PatientID int64  `db:"patient_id" json:"patient_id"`
	TypeID    int64  `db:"identifier_type" json:"type"`
	Value     string `db:"identifier" json:"value"`
}

// Encounter maps to the encounter table joined with its type name.
type Encounter struct {
	ID        int64     `db:"encounter_id" json:"id"`
	PatientID int64     `db:"patient_id" json:"patient_id"`
	TypeID    int64     `db:"encounter_type" json:"type"`
	TypeName  string    `db:"type_name" json:"type_name"`
	Datetime  time.Time `db:"encounter_datetime" json:"datetime"`
}

// ProgramState is a patient's state within a program workflow.
type ProgramState struct {
	PatientID  int64      `db:"patient_id" json:"patient_id"`
	WorkflowID int64      `db:"program_workflow_id" json:"workflow"`
	StateName  string     `db:"state_name" json:"state"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	EndDate    *time.Time `db:"end_date" json:"end_date,omitempty"`
}

// EffectiveDate is the end date of a closed state, otherwise its start date.
func (s *ProgramState) EffectiveDate() time.Time {
	if s.EndDate != nil {
		return *s.EndDate
	}
	return s.StartDate
}

// PersonName is a single name row together with its owner.
type PersonName struct {
	NameID     int64  `db:"person_name_id"`
	PersonID   int64  `db:"person_id"`
	GivenName  string `db:"given_name"`
	FamilyName string `db:"family_name"`
}

// NameCode is the phonetic key stored for a person name.
type NameCode struct {
	NameID     int64  `db:"person_name_id"`
	GivenCode  string `db:"given_name_code"`
	FamilyCode string `db:"family_name_code"`
}
