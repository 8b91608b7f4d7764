package patient

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the YAML form of an offline patient export used by the
// "find --snapshot" command and by tests.
type Snapshot struct {
	EncounterTypes map[int64]string  `yaml:"encounter_types"`
	Patients       []SnapshotPatient `yaml:"patients"`
}

type SnapshotPatient struct {
	ID            int64  `yaml:"id"`
	GivenName     string `yaml:"given_name"`
	FamilyName    string `yaml:"family_name"`
	Gender        string `yaml:"gender"`
	BirthDate     string `yaml:"birth_date"`
	SystemAccount bool   `yaml:"system_account"`
	Aliases       []struct {
		GivenName  string `yaml:"given_name"`
		FamilyName string `yaml:"family_name"`
	} `yaml:"aliases"`
	Villages    []string `yaml:"villages"`
	Identifiers []struct {
		Type  int64  `yaml:"type"`
		Value string `yaml:"value"`
	} `yaml:"identifiers"`
	Encounters []struct {
		ID       int64  `yaml:"id"`
		Type     int64  `yaml:"type"`
		Datetime string `yaml:"datetime"`
	} `yaml:"encounters"`
	States []struct {
		Workflow int64  `yaml:"workflow"`
		State    string `yaml:"state"`
		Start    string `yaml:"start"`
		End      string `yaml:"end"`
	} `yaml:"states"`
}

// LoadSnapshotFile reads a YAML snapshot from path into a new MemoryStore.
func LoadSnapshotFile(path string, enc NameEncoder) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return LoadSnapshot(f, enc)
}

// LoadSnapshot decodes a YAML snapshot into a new MemoryStore.
func LoadSnapshot(r io.Reader, enc NameEncoder) (*MemoryStore, error) {
	var snap Snapshot
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	store := NewMemoryStore(enc)
	seen := make(map[int64]bool, len(snap.Patients))
	for i, sp := range snap.Patients {
		if sp.ID <= 0 {
			return nil, fmt.Errorf("snapshot patient #%d: id must be positive", i+1)
		}
		if seen[sp.ID] {
			return nil, fmt.Errorf("snapshot patient #%d: duplicate id %d", i+1, sp.ID)
		}
		seen[sp.ID] = true
		rec, err := sp.record(snap.EncounterTypes)
		if err != nil {
			return nil, fmt.Errorf("snapshot patient %d: %w", sp.ID, err)
		}
		store.Put(rec)
	}
	return store, nil
}

func (sp SnapshotPatient) record(typeNames map[int64]string) (*Record, error) {
	rec := &Record{
		Patient: Patient{
			ID:         sp.ID,
			GivenName:  sp.GivenName,
			FamilyName: sp.FamilyName,
			Gender:     sp.Gender,
		},
		SystemAccount: sp.SystemAccount,
	}
	if sp.BirthDate != "" {
		t, err := parseSnapshotTime(sp.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("birth_date: %w", err)
		}
		rec.BirthDate = &t
	}
	for _, a := range sp.Aliases {
		rec.Aliases = append(rec.Aliases, PersonName{PersonID: sp.ID, GivenName: a.GivenName, FamilyName: a.FamilyName})
	}
	for i, v := range sp.Villages {
		rec.Addresses = append(rec.Addresses, Address{PersonID: sp.ID, CityVillage: v, Preferred: i == 0})
	}
	for _, ident := range sp.Identifiers {
		rec.Identifiers = append(rec.Identifiers, Identifier{PatientID: sp.ID, TypeID: ident.Type, Value: ident.Value})
	}
	for _, e := range sp.Encounters {
		t, err := parseSnapshotTime(e.Datetime)
		if err != nil {
			return nil, fmt.Errorf("encounter %d: %w", e.ID, err)
		}
		name := typeNames[e.Type]
		if name == "" {
			name = fmt.Sprintf("type %d", e.Type)
		}
		rec.Encounters = append(rec.Encounters, Encounter{ID: e.ID, PatientID: sp.ID, TypeID: e.Type, TypeName: name, Datetime: t})
	}
	for _, st := range sp.States {
		start, err := parseSnapshotTime(st.Start)
		if err != nil {
			return nil, fmt.Errorf("state %q start: %w", st.State, err)
		}
		ps := ProgramState{PatientID: sp.ID, WorkflowID: st.Workflow, StateName: st.State, StartDate: start}
		if st.End != "" {
			end, err := parseSnapshotTime(st.End)
			if err != nil {
				return nil, fmt.Errorf("state %q end: %w", st.State, err)
			}
			ps.EndDate = &end
		}
		rec.States = append(rec.States, ps)
	}
	return rec, nil
}

func parseSnapshotTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
