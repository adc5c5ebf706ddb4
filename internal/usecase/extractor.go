package usecase

import (
	"log/slog"

	"FeeSync/internal/domain"
)

// FeeExtractor picks the configured fee concepts out of an encounter.
type FeeExtractor struct {
	concepts []domain.FeeConceptMapping
	logger   *slog.Logger
}

// NewFeeExtractor keeps the mapping order; results follow it.
func NewFeeExtractor(concepts []domain.FeeConceptMapping, logger *slog.Logger) *FeeExtractor {
	mappings := make([]domain.FeeConceptMapping, len(concepts))
	copy(mappings, concepts)
	return &FeeExtractor{concepts: mappings, logger: logger}
}

// Extract returns one fee per configured concept that has a numeric value.
func (e *FeeExtractor) Extract(detail domain.EncounterDetail) []domain.ExtractedFee {
	fees := make([]domain.ExtractedFee, 0, len(e.concepts))
	for _, mapping := range e.concepts {
		obs, ok := detail.FindObservation(mapping.Concept)
		if !ok {
			e.logger.Debug("fee concept absent",
				"encounter_id", detail.EncounterID,
				"concept", mapping.Concept)
			continue
		}
		if obs.Value == nil {
			e.logger.Warn("fee concept has no value",
				"encounter_id", detail.EncounterID,
				"concept", mapping.Concept,
				"raw", obs.Raw)
			continue
		}
		fees = append(fees, domain.ExtractedFee{
			Concept:          mapping.Concept,
			Value:            *obs.Value,
			ProductKey:       mapping.ProductKey,
			OnMissingProduct: mapping.OnMissingProduct,
		})
	}
	return fees
}
