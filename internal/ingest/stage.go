package ingest

import (
	"errors"
	"fmt"
)

// Stage names a step of the ingestion pipeline. Errors are attributed to the
// step that failed.
type Stage string

const (
	StagePending    Stage = "pending"
	StageDecoded    Stage = "decoded"
	StageNormalized Stage = "normalized"
	StageEmbedded   Stage = "embedded"
	StageStored     Stage = "stored"
	StageSkipped    Stage = "skipped"
)

// StageError records the stage whose step failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failing stage of err, or StagePending when err carries
// none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StagePending
}
