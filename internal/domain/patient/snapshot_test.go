package patient

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleSnapshot = `
encounter_types:
  10: ART_INITIAL
patients:
  - id: 1
    given_name: Jon
    family_name: Banda
    gender: M
    birth_date: 1990-03-02
    aliases:
      - {given_name: Jonathan, family_name: Mbewe}
    villages: [Chifunga, Old village]
    identifiers:
      - {type: 4, value: NNO 1}
    encounters:
      - {id: 11, type: 10, datetime: "2020-01-05T09:30:00Z"}
      - {id: 12, type: 99, datetime: 2021-02-01}
    states:
      - {workflow: 1, state: Pre-ART, start: 2019-06-01, end: 2020-01-05}
  - id: 2
    given_name: Admin
    family_name: User
    system_account: true
`

func TestLoadSnapshot(t *testing.T) {
	s, err := LoadSnapshot(strings.NewReader(sampleSnapshot), initialEncoder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s.Len())
	}

	ctx := context.Background()
	p, err := s.GetPatient(ctx, 1)
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	if p.BirthDate == nil || !p.BirthDate.Equal(time.Date(1990, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected birth date: %v", p.BirthDate)
	}

	addrs, _ := s.Addresses(ctx, 1)
	if len(addrs) != 2 || addrs[0].CityVillage != "Chifunga" || !addrs[0].Preferred {
		t.Errorf("expected first village preferred, got %+v", addrs)
	}

	encs, _ := s.Encounters(ctx, 1, nil)
	if len(encs) != 2 || encs[0].TypeName != "ART_INITIAL" || encs[1].TypeName != "type 99" {
		t.Errorf("unexpected encounters: %+v", encs)
	}

	if ok, _ := s.HasIdentifierOfType(ctx, 1, 4); !ok {
		t.Error("expected identifier type 4")
	}

	st, _ := s.CurrentState(ctx, 1, 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if st == nil || st.EndDate == nil {
		t.Errorf("expected closed Pre-ART state, got %+v", st)
	}

	names, _ := s.PersonNames(ctx, 1)
	if len(names) != 2 || names[1].GivenName != "Jonathan" || names[1].FamilyName != "Mbewe" {
		t.Errorf("unexpected names: %+v", names)
	}

	m, _ := s.FindPhoneticMatches(ctx, PhoneticQuery{ReferenceID: 2, GivenCode: "J", FamilyCode: "B", CandidateIDs: []int64{1}})
	if len(m) != 0 {
		t.Errorf("system account reference must not match, got %v", m)
	}
}

func TestLoadSnapshot_Empty(t *testing.T) {
	s, err := LoadSnapshot(strings.NewReader(""), initialEncoder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d records", s.Len())
	}
}

func TestLoadSnapshot_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field": "patients:\n  - id: 1\n    nickname: JB\n",
		"missing id":    "patients:\n  - given_name: Jon\n",
		"bad date":      "patients:\n  - id: 1\n    birth_date: yesterday\n",
		"bad state":     "patients:\n  - id: 1\n    states:\n      - {workflow: 1, state: X, start: soon}\n",
		"duplicate id":  "patients:\n  - {id: 1, given_name: Jon}\n  - {id: 1, given_name: John}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadSnapshot(strings.NewReader(doc), initialEncoder{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := os.WriteFile(path, []byte(sampleSnapshot), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSnapshotFile(path, initialEncoder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 records, got %d", s.Len())
	}

	if _, err := LoadSnapshotFile(filepath.Join(t.TempDir(), "missing.yaml"), initialEncoder{}); err == nil {
		t.Error("expected error for missing file")
	}
}
