package orders

import "github.com/oklog/ulid/v2"

type IDAllocator interface {
	NewID() string
}

// ULIDAllocator issues lexicographically time-ordered ids. ulid.Make uses a
// process-wide monotonic source guarded by a mutex, so it is safe for
// concurrent callers.
type ULIDAllocator struct{}

func (ULIDAllocator) NewID() string { return ulid.Make().String() }
