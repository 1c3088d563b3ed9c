package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// RootSet counts the outstanding retains of each rooted reference. A reference is a root for as long as
// its count is above zero.
type RootSet struct {
	counts *swiss.Map[Ref, int]
}

func NewRootSet() *RootSet {
	return &RootSet{
		counts: swiss.NewMap[Ref, int](16),
	}
}

// Retain adds one to the count of ref and returns the new count
func (s *RootSet) Retain(ref Ref) int {
	count, _ := s.counts.Get(ref)
	count++
	s.counts.Put(ref, count)
	return count
}

// Release removes one from the count of ref and returns the new count. The reference is forgotten once
// the count reaches zero.
func (s *RootSet) Release(ref Ref) (int, error) {
	count, ok := s.counts.Get(ref)
	if !ok {
		return 0, errors.Wrapf(ErrNotRetained, "release of %s", ref)
	}

	count--
	if count == 0 {
		s.counts.Delete(ref)
	} else {
		s.counts.Put(ref, count)
	}
	return count, nil
}

// Count returns the number of outstanding retains of ref
func (s *RootSet) Count(ref Ref) int {
	count, _ := s.counts.Get(ref)
	return count
}

// Len returns the number of distinct rooted references
func (s *RootSet) Len() int {
	return s.counts.Count()
}

// Each calls visit for every rooted reference until visit returns false
func (s *RootSet) Each(visit func(ref Ref, count int) bool) {
	s.counts.Iter(func(ref Ref, count int) bool {
		return !visit(ref, count)
	})
}
