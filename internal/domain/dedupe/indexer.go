package dedupe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pih/dupfinder/internal/domain/patient"
)

const indexBatchSize = 500

// Indexer recomputes the stored phonetic codes that the database store
// matches on. It must use the same encoder as the matcher.
type Indexer struct {
	index  patient.NameCodeIndex
	enc    Encoder
	logger zerolog.Logger
}

func NewIndexer(index patient.NameCodeIndex, enc Encoder, logger zerolog.Logger) *Indexer {
	return &Indexer{
		index:  index,
		enc:    enc,
		logger: logger.With().Str("component", "dedupe.indexer").Logger(),
	}
}

// Rebuild encodes every person name and saves the codes in batches. It
// returns the number of names indexed.
func (ix *Indexer) Rebuild(ctx context.Context) (int, error) {
	names, err := ix.index.ListNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("list names: %w", err)
	}

	batch := make([]patient.NameCode, 0, indexBatchSize)
	saved := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.index.SaveNameCodes(ctx, batch); err != nil {
			return fmt.Errorf("save name codes: %w", err)
		}
		saved += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		given, family := EncodeName(ix.enc, n.GivenName, n.FamilyName)
		batch = append(batch, patient.NameCode{NameID: n.NameID, GivenCode: given, FamilyCode: family})
		if len(batch) == indexBatchSize {
			if err := flush(); err != nil {
				return saved, err
			}
		}
	}
	if err := flush(); err != nil {
		return saved, err
	}

	ix.logger.Info().Int("names", saved).Msg("name codes rebuilt")
	return saved, nil
}
