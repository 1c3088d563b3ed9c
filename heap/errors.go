package heap

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is returned when no segment can satisfy an allocation and the page source refuses
	// to map another one
	ErrOutOfMemory = errors.New("out of memory")
	// ErrForeignReference is returned when a Ref does not identify a live block of this heap
	ErrForeignReference = errors.New("foreign reference")
	// ErrNotRetained is returned when releasing a reference that holds no root
	ErrNotRetained = errors.New("reference is not retained")
	// ErrDeleted is returned when operating on an object that was explicitly deleted
	ErrDeleted = errors.New("object has been deleted")
	// ErrHandleReleased is returned when using a Handle after its root was released
	ErrHandleReleased = errors.New("handle has already been released")
	// ErrDestroyed is returned when using a heap after Destroy has unmapped its segments
	ErrDestroyed = errors.New("heap has been destroyed")
)
