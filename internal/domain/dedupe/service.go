package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pih/dupfinder/internal/domain/patient"
	"github.com/pih/dupfinder/internal/platform/reporting"
)

// Overrides adjust a definition for a single evaluation.
type Overrides struct {
	Limit   int
	Swap    *bool
	Workers int
}

type Service struct {
	store   patient.Store
	enc     Encoder
	catalog *Catalog
	logger  zerolog.Logger
	baseURL string
	workers int
	now     func() time.Time
}

func NewService(store patient.Store, enc Encoder, catalog *Catalog, baseURL string, workers int, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		enc:     enc,
		catalog: catalog,
		logger:  logger,
		baseURL: baseURL,
		workers: workers,
		now:     time.Now,
	}
}

func (s *Service) Definitions() []Definition {
	return s.catalog.List()
}

// Encode returns the phonetic code of name.
func (s *Service) Encode(name string) string {
	return s.enc.Encode(name)
}

// Evaluate runs the named definition and returns its report.
func (s *Service) Evaluate(ctx context.Context, definitionID string, ov Overrides) (*reporting.Dataset, error) {
	def, err := s.catalog.Get(definitionID)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, def, ov)
}

// Run evaluates def against the service's store.
func (s *Service) Run(ctx context.Context, def Definition, ov Overrides) (*reporting.Dataset, error) {
	if ov.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	if ov.Limit > 0 {
		def.Limit = ov.Limit
	}
	if ov.Swap != nil {
		def.SwapNameOrder = *ov.Swap
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	workers := s.workers
	if ov.Workers > 0 {
		workers = ov.Workers
	}
	matcher := NewMatcher(s.store, s.enc, s.logger, WithWorkers(workers))
	res, err := matcher.FindDuplicates(ctx, def.Request())
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	opts := def.Display(s.baseURL)
	opts.Now = s.now
	rows, err := NewFormatter(s.store, opts, s.logger).FormatAll(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("format report: %w", err)
	}

	return &reporting.Dataset{
		ID:          def.ID,
		Name:        def.Name,
		RunID:       res.RunID.String(),
		GeneratedAt: s.now().UTC(),
		Parameters: map[string]string{
			"swap_name_order": strconv.FormatBool(def.SwapNameOrder),
			"limit":           strconv.Itoa(def.Limit),
			"scanned":         strconv.Itoa(res.Scanned),
			"candidate_pool":  strconv.Itoa(res.PoolSize),
			"errors":          strconv.Itoa(countErrorRows(rows)),
		},
		Rows: rows,
	}, nil
}

// countErrorRows counts rows reported as errors, whether the matcher or the
// formatter gave up on them.
func countErrorRows(rows []reporting.Row) int {
	n := 0
	for _, r := range rows {
		for _, c := range r.Cells {
			if c.Column == ErrorColumn {
				n++
				break
			}
		}
	}
	return n
}
