package classify

import "github.com/MLidstrom/Castellan-sub000/pkg/models"

// Classifier produces an optional per-event base finding. The correlation
// engine treats classifiers as external collaborators; a nil finding means
// the event carries no single-event detection.
type Classifier interface {
	Classify(e *models.RawEvent) *models.BaseFinding
}

// NoopClassifier never produces a finding.
type NoopClassifier struct{}

// Classify returns nil.
func (NoopClassifier) Classify(*models.RawEvent) *models.BaseFinding { return nil }
