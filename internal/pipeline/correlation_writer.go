package pipeline

import "github.com/MLidstrom/Castellan-sub000/pkg/models"

// CorrelationWriter writes detected correlations.
type CorrelationWriter interface {
	WriteCorrelations(correlations []*models.Correlation) error
	Close() error
}
