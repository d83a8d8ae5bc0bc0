package defrag

import "github.com/google/uuid"

// RunID identifies one coordinator pass: a thin, typed wrapper around
// google/uuid rather than a bare string, so a run id logged by one process
// and handed to another round-trips through the same parse/format path.
type RunID uuid.UUID

// NewRunID mints a fresh run identifier.
func NewRunID() RunID {
	return RunID(uuid.New())
}

// ParseRunID parses a run id previously produced by String.
func ParseRunID(s string) (RunID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, err
	}
	return RunID(u), nil
}

func (r RunID) String() string {
	return uuid.UUID(r).String()
}

// Bytes returns the 16-byte representation of r.
func (r RunID) Bytes() []byte {
	u := uuid.UUID(r)
	return u[:]
}
