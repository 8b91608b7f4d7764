package dedupe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pih/dupfinder/internal/domain/patient"
)

// Definition is a named, configured duplicate search.
type Definition struct {
	ID                          string  `yaml:"id" json:"id"`
	Name                        string  `yaml:"name" json:"name"`
	Description                 string  `yaml:"description" json:"description,omitempty"`
	SwapNameOrder               bool    `yaml:"swap_name_order" json:"swap_name_order"`
	EncounterTypesForDuplicates []int64 `yaml:"encounter_types_for_duplicates" json:"encounter_types_for_duplicates,omitempty"`
	RequiredIdentifierType      int64   `yaml:"required_identifier_type" json:"required_identifier_type,omitempty"`
	SummaryEncounterTypes       []int64 `yaml:"summary_encounter_types" json:"summary_encounter_types,omitempty"`
	SummaryWorkflow             int64   `yaml:"summary_workflow" json:"summary_workflow,omitempty"`
	Limit                       int     `yaml:"limit" json:"limit,omitempty"`
	// Cohort lists explicit reference patient ids; empty means all patients.
	Cohort []int64 `yaml:"cohort" json:"cohort,omitempty"`
}

// Validate checks a single definition.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Limit < 0 {
		return fmt.Errorf("definition %s: limit must not be negative", d.ID)
	}
	if d.RequiredIdentifierType != 0 && len(d.EncounterTypesForDuplicates) == 0 {
		return fmt.Errorf("definition %s: required_identifier_type needs encounter_types_for_duplicates", d.ID)
	}
	return nil
}

// Request builds the matcher request for d.
func (d *Definition) Request() Request {
	req := Request{SwapNameOrder: d.SwapNameOrder, Limit: d.Limit}
	if len(d.Cohort) > 0 {
		req.Cohort = patient.NewCohort(d.Cohort...)
	}
	if len(d.EncounterTypesForDuplicates) > 0 {
		req.Eligibility = &EligibilityFilter{
			EncounterTypeIDs:         d.EncounterTypesForDuplicates,
			RequiredIdentifierTypeID: d.RequiredIdentifierType,
		}
	}
	return req
}

// Display returns the formatter options for d.
func (d *Definition) Display(baseURL string) DisplayOptions {
	return DisplayOptions{
		SummaryEncounterTypeIDs: d.SummaryEncounterTypes,
		WorkflowID:              d.SummaryWorkflow,
		BaseURL:                 baseURL,
	}
}

// Catalog is the set of definitions available to the service.
type Catalog struct {
	defs map[string]Definition
}

// DefaultDefinitions are used when no definitions file is configured.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:          "all-patients",
			Name:        "Potential duplicates",
			Description: "Patients whose given and family names sound alike",
		},
		{
			ID:            "all-patients-swapped",
			Name:          "Potential duplicates (swapped names)",
			Description:   "Patients whose given name sounds like another patient's family name and vice versa",
			SwapNameOrder: true,
		},
	}
}

func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("definition #%d: %w", i+1, err)
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate definition id %q", d.ID)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		c.defs[d.ID] = d
	}
	return c, nil
}

// LoadCatalog reads definitions from a YAML file. An empty path yields the
// default definitions.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultDefinitions())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return ParseCatalog(bytes.NewReader(data))
}

// ParseCatalog decodes a YAML document with a top-level definitions list.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Definitions []Definition `yaml:"definitions"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	if len(doc.Definitions) == 0 {
		return nil, fmt.Errorf("definitions file has no definitions")
	}
	return NewCatalog(doc.Definitions)
}

// Get returns the definition with id.
func (c *Catalog) Get(id string) (Definition, error) {
	d, ok := c.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}
	return d, nil
}

// List returns all definitions sorted by id.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
