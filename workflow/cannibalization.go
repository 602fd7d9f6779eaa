package workflow

import (
	"context"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/vecindex"
	"gorm.io/gorm"
)

// SimilarityResult is the detector's verdict for one candidate page.
type SimilarityResult struct {
	MaxSimilarity  float64
	BlockingPageId int
	Blocking       bool
	Comparisons    int
}

// CheckSimilarity compares the candidate embedding against all other
// published/approved pages on the same site. Every comparison performed is
// recorded as a CannibalizationCheck row regardless of outcome; the advisory
// flag marks the early (title/outline) pass.
//
// A missing or wrong-dimension embedding is a precondition failure, not a
// similarity result.
func CheckSimilarity(ctx context.Context, tx *gorm.DB, page *models.Page, embedding []float32, advisory bool) (*SimilarityResult, error) {
	if len(embedding) != models.EmbeddingDimension {
		return nil, models.ErrEmbeddingInvalid
	}

	neighbors, err := vecindex.NearbyPages(ctx, page.SiteId, embedding, config.SearchLimit, page.ID)
	if err != nil {
		return nil, err
	}

	threshold := config.CannibalizationThreshold()
	result := SimilarityResult{Comparisons: len(neighbors)}

	rows := make([]models.CannibalizationCheck, 0, len(neighbors))
	for _, n := range neighbors {
		exceeded := n.Similarity >= threshold
		rows = append(rows, models.CannibalizationCheck{
			BusinessId:        page.BusinessId,
			PageId:            page.ID,
			ComparedWithId:    n.PageId,
			SimilarityScore:   n.Similarity,
			ThresholdExceeded: exceeded,
			Advisory:          advisory,
		})
		if n.Similarity > result.MaxSimilarity {
			result.MaxSimilarity = n.Similarity
		}
		if exceeded && !result.Blocking {
			result.Blocking = true
			result.BlockingPageId = n.PageId
		}
	}

	if err := models.RecordCannibalizationChecks(tx, rows); err != nil {
		return nil, err
	}
	return &result, nil
}
