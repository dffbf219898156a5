package catalog

import (
	"context"

	"github.com/italolelis/mover/internal/telemetry"
)

// InstrumentedSearcher wraps a Searcher with telemetry.
type InstrumentedSearcher struct {
	searcher  Searcher
	telemetry *telemetry.Telemetry
}

func NewInstrumentedSearcher(searcher Searcher, tel *telemetry.Telemetry) *InstrumentedSearcher {
	return &InstrumentedSearcher{searcher: searcher, telemetry: tel}
}

func (s *InstrumentedSearcher) Search(ctx context.Context, query string) ([]Movie, error) {
	var result []Movie

	err := s.telemetry.InstrumentClientOperation(ctx, "catalog", "search", func(ctx context.Context) error {
		var err error
		result, err = s.searcher.Search(ctx, query)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
