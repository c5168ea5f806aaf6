// Package uuid generates run and report identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportIDLayout is the timestamp prefix of a report ID.
const ReportIDLayout = "20060102_150405"

// Generator creates run IDs (UUIDv7) and report IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (g Generator) NewID() (string, error) {
	id, err := g.NewRunID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRunID returns a time-ordered UUIDv7 for a pipeline run.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// NewReportID returns "YYYYmmdd_HHMMSS_xxxxxx": the UTC time followed by
// six random hex characters.
func (Generator) NewReportID(at time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return fmt.Sprintf("%s_%x", at.UTC().Format(ReportIDLayout), id[:3]), nil
}
