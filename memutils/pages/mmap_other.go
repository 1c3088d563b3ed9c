//go:build !unix

package pages

import (
	"github.com/pkg/errors"
)

const fallbackPageSize = 4096

// SystemSource hands out Go-allocated memory on platforms without mmap
type SystemSource struct{}

var _ Source = SystemSource{}

func (s SystemSource) PageSize() int {
	return fallbackPageSize
}

func (s SystemSource) Map(size int) ([]byte, error) {
	if size < 1 || size%fallbackPageSize != 0 {
		return nil, errors.Errorf("mapping size %d is not a positive multiple of the page size %d", size, fallbackPageSize)
	}

	return make([]byte, size), nil
}

func (s SystemSource) Unmap(region []byte) error {
	return nil
}
