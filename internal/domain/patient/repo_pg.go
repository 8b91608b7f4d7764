package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pih/dupfinder/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// RepoPG is the PostgreSQL store. It implements both Store and NameCodeIndex.
type RepoPG interface {
	Store
	NameCodeIndex
}

func NewRepo(pool *pgxpool.Pool) RepoPG {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// begin starts a transaction on the same connection conn would use. Inside
// an existing transaction it opens a savepoint.
func (r *repoPG) begin(ctx context.Context) (pgx.Tx, error) {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx.Begin(ctx)
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c.Begin(ctx)
	}
	return r.pool.Begin(ctx)
}

// The lateral join picks the preferred name, falling back to the oldest one.
const patientSelect = `
	SELECT p.patient_id, COALESCE(n.given_name, ''), COALESCE(n.family_name, ''),
	       COALESCE(ps.gender, ''), ps.birthdate
	FROM patient p
	JOIN person ps ON ps.person_id = p.patient_id AND NOT ps.voided
	LEFT JOIN LATERAL (
		SELECT pn.given_name, pn.family_name
		FROM person_name pn
		WHERE pn.person_id = p.patient_id AND NOT pn.voided
		ORDER BY pn.preferred DESC, pn.person_name_id
		LIMIT 1
	) n ON TRUE
	WHERE NOT p.voided`

func (r *repoPG) AllPatientIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT patient_id FROM patient WHERE NOT voided ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("list patient ids: %w", err)
	}
	return collectIDs(rows)
}

func (r *repoPG) GetPatients(ctx context.Context, ids []int64) ([]*Patient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, patientSelect+` AND p.patient_id = ANY($1) ORDER BY p.patient_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get patients: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (r *repoPG) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, patientSelect+` AND p.patient_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) PersonNames(ctx context.Context, personID int64) ([]PersonName, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT person_name_id, person_id, COALESCE(given_name, ''), COALESCE(family_name, '')
		FROM person_name
		WHERE person_id = $1 AND NOT voided
		ORDER BY preferred DESC, person_name_id`, personID)
	if err != nil {
		return nil, fmt.Errorf("names of person %d: %w", personID, err)
	}
	defer rows.Close()

	var names []PersonName
	for rows.Next() {
		var n PersonName
		if err := rows.Scan(&n.NameID, &n.PersonID, &n.GivenName, &n.FamilyName); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// findPhoneticSQL binds $1 reference id, $2 candidate ids, $3/$4 the codes
// the candidate's given/family names must carry. Swapped pairing only
// changes which reference code is bound to $3 and $4.
const findPhoneticSQL = `
	SELECT DISTINCT pn2.person_id, COALESCE(person2.gender, '')
	FROM person_name_code c2
	JOIN person_name pn2 ON pn2.person_name_id = c2.person_name_id AND NOT pn2.voided
	JOIN person person2 ON person2.person_id = pn2.person_id AND NOT person2.voided
	JOIN patient patient2 ON patient2.patient_id = person2.person_id AND NOT patient2.voided
	WHERE pn2.person_id <> $1
	  AND pn2.person_id = ANY($2)
	  AND c2.given_name_code = $3
	  AND c2.family_name_code = $4
	  AND NOT EXISTS (SELECT 1 FROM system_account sa WHERE sa.person_id = pn2.person_id)
	  AND NOT EXISTS (SELECT 1 FROM system_account sa WHERE sa.person_id = $1)`

func (r *repoPG) FindPhoneticMatches(ctx context.Context, q PhoneticQuery) (map[int64]string, error) {
	matches := make(map[int64]string)
	given, family := q.CandidateCodes()
	if len(q.CandidateIDs) == 0 || given == "" || family == "" {
		return matches, nil
	}

	rows, err := r.conn(ctx).Query(ctx, findPhoneticSQL, q.ReferenceID, q.CandidateIDs, given, family)
	if err != nil {
		return nil, fmt.Errorf("phonetic match for %d: %w", q.ReferenceID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var gender string
		if err := rows.Scan(&id, &gender); err != nil {
			return nil, err
		}
		matches[id] = gender
	}
	return matches, rows.Err()
}

func (r *repoPG) PatientsWithEncounters(ctx context.Context, encounterTypeIDs []int64) (*Cohort, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT e.patient_id
		FROM encounter e
		JOIN patient p ON p.patient_id = e.patient_id AND NOT p.voided
		WHERE NOT e.voided AND e.encounter_type = ANY($1)`, encounterTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("patients with encounters: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	return NewCohort(ids...), nil
}

func (r *repoPG) HasIdentifierOfType(ctx context.Context, patientID, identifierTypeID int64) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patient_identifier
			WHERE patient_id = $1 AND identifier_type = $2 AND NOT voided
		)`, patientID, identifierTypeID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("identifier lookup for %d: %w", patientID, err)
	}
	return ok, nil
}

func (r *repoPG) Addresses(ctx context.Context, patientID int64) ([]Address, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT person_id, COALESCE(city_village, ''), preferred
		FROM person_address
		WHERE person_id = $1 AND NOT voided
		ORDER BY preferred DESC, person_address_id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("addresses for %d: %w", patientID, err)
	}
	defer rows.Close()

	var addrs []Address
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.PersonID, &a.CityVillage, &a.Preferred); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

func (r *repoPG) Encounters(ctx context.Context, patientID int64, encounterTypeIDs []int64) ([]Encounter, error) {
	if encounterTypeIDs == nil {
		encounterTypeIDs = []int64{}
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.encounter_id, e.patient_id, e.encounter_type, et.name, e.encounter_datetime
		FROM encounter e
		JOIN encounter_type et ON et.encounter_type_id = e.encounter_type
		WHERE e.patient_id = $1 AND NOT e.voided
		  AND (cardinality($2::bigint[]) = 0 OR e.encounter_type = ANY($2))
		ORDER BY e.encounter_datetime, e.encounter_id`, patientID, encounterTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("encounters for %d: %w", patientID, err)
	}
	defer rows.Close()

	var encs []Encounter
	for rows.Next() {
		var e Encounter
		if err := rows.Scan(&e.ID, &e.PatientID, &e.TypeID, &e.TypeName, &e.Datetime); err != nil {
			return nil, err
		}
		encs = append(encs, e)
	}
	return encs, rows.Err()
}

func (r *repoPG) CurrentState(ctx context.Context, patientID, workflowID int64, asOf time.Time) (*ProgramState, error) {
	if workflowID == 0 {
		return nil, nil
	}
	var s ProgramState
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT s.patient_id, ws.program_workflow_id, ws.name, s.start_date, s.end_date
		FROM patient_state s
		JOIN program_workflow_state ws ON ws.program_workflow_state_id = s.state
		WHERE s.patient_id = $1 AND ws.program_workflow_id = $2
		  AND NOT s.voided AND s.start_date <= $3
		ORDER BY s.start_date DESC, s.patient_state_id DESC
		LIMIT 1`, patientID, workflowID, asOf).
		Scan(&s.PatientID, &s.WorkflowID, &s.StateName, &s.StartDate, &s.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("program state for %d: %w", patientID, err)
	}
	return &s, nil
}

// -- Name code index --

func (r *repoPG) ListNames(ctx context.Context) ([]PersonName, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT person_name_id, person_id, COALESCE(given_name, ''), COALESCE(family_name, '')
		FROM person_name
		WHERE NOT voided
		ORDER BY person_name_id`)
	if err != nil {
		return nil, fmt.Errorf("list person names: %w", err)
	}
	defer rows.Close()

	var names []PersonName
	for rows.Next() {
		var n PersonName
		if err := rows.Scan(&n.NameID, &n.PersonID, &n.GivenName, &n.FamilyName); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SaveNameCodes upserts all codes in a single transaction.
func (r *repoPG) SaveNameCodes(ctx context.Context, codes []NameCode) error {
	if len(codes) == 0 {
		return nil
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for _, c := range codes {
		batch.Queue(`
			INSERT INTO person_name_code (person_name_id, given_name_code, family_name_code)
			VALUES ($1, $2, $3)
			ON CONFLICT (person_name_id) DO UPDATE
			SET given_name_code = EXCLUDED.given_name_code,
			    family_name_code = EXCLUDED.family_name_code`,
			c.NameID, c.GivenCode, c.FamilyCode)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save name codes: %w", err)
	}
	return tx.Commit(ctx)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.GivenName, &p.FamilyName, &p.Gender, &p.BirthDate); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
