package chain

import "github.com/google/uuid"

// UID supplies unique identifiers for chains and runs. Debug logging tags
// every event with the owning chain's id, so implementations should be cheap
// and collision-free within a process.
type UID interface {
	Next() string
}

// UIDFunc adapts a plain function to the UID interface.
type UIDFunc func() string

func (f UIDFunc) Next() string { return f() }

// UUIDSource returns the default UID implementation backed by random UUIDs.
func UUIDSource() UID {
	return UIDFunc(uuid.NewString)
}
