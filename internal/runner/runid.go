package runner

import (
	"github.com/google/uuid"
)

// RunIDGenerator generates the identifier that tags every log record and
// report of a run. Implemented by UUIDv7Generator (production) and
// testutil.FixedRunIDGenerator (tests).
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so run IDs sort
// by start time in logs and metrics textfiles.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
