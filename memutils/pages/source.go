// Package pages obtains the raw memory that heap segments are carved out of. Memory is requested from
// the operating system in multiples of the system page size and returned whole; there is no partial
// unmapping.
package pages

//go:generate mockgen -destination mocks/mock_pages.go github.com/kai-lang/memory/memutils/pages Source

import (
	"github.com/kai-lang/memory/memutils"
	"github.com/pkg/errors"
)

// Source maps and unmaps page-aligned regions of memory
type Source interface {
	// PageSize returns the granularity, in bytes, of mappings produced by this source. It must be a
	// power of two.
	PageSize() int
	// Map returns a fresh, zeroed, writable region of exactly size bytes. size must be a multiple of
	// PageSize.
	Map(size int) ([]byte, error)
	// Unmap returns a region previously produced by Map. The slice must not be used afterward.
	Unmap(region []byte) error
}

// RoundToPages rounds size up to a whole number of pages of the provided source
func RoundToPages(source Source, size int) (int, error) {
	pageSize := source.PageSize()
	err := memutils.CheckPow2(pageSize, "page size")
	if err != nil {
		return 0, err
	}

	if size < 1 {
		return 0, errors.Errorf("invalid mapping size: %d", size)
	}

	return memutils.AlignUp(size, pageSize), nil
}
