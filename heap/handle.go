package heap

import "github.com/cockroachdb/errors"

// Handle owns one retain of a reference. It is the usual way for native code to keep an object alive
// across collections: Hold retains, Release gives the retain back.
type Handle struct {
	heap     *Heap
	ref      Ref
	released bool
}

// Hold retains ref and returns a Handle that owns the retain
func (h *Heap) Hold(ref Ref) (*Handle, error) {
	err := h.Retain(ref)
	if err != nil {
		return nil, err
	}

	return &Handle{heap: h, ref: ref}, nil
}

func (h *Handle) Ref() Ref {
	return h.ref
}

// Clone retains the reference again and returns a second, independent Handle
func (h *Handle) Clone() (*Handle, error) {
	if h.released {
		return nil, errors.Wrapf(ErrHandleReleased, "clone of %s", h.ref)
	}

	return h.heap.Hold(h.ref)
}

// Release gives back the retain owned by the Handle. A Handle can be released only once.
func (h *Handle) Release() error {
	if h.released {
		return errors.Wrapf(ErrHandleReleased, "release of %s", h.ref)
	}

	err := h.heap.Release(h.ref)
	if err != nil {
		return err
	}

	h.released = true
	return nil
}
