//go:build unix

package pages

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SystemSource maps anonymous private memory directly from the operating system
type SystemSource struct{}

var _ Source = SystemSource{}

func (s SystemSource) PageSize() int {
	return unix.Getpagesize()
}

func (s SystemSource) Map(size int) ([]byte, error) {
	if size < 1 || size%s.PageSize() != 0 {
		return nil, errors.Errorf("mapping size %d is not a positive multiple of the page size %d", size, s.PageSize())
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", size)
	}

	return region, nil
}

func (s SystemSource) Unmap(region []byte) error {
	err := unix.Munmap(region)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap %d bytes", len(region))
	}

	return nil
}
