package pages_test

import (
	"testing"

	"github.com/kai-lang/memory/memutils/pages"
	mock_pages "github.com/kai-lang/memory/memutils/pages/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSystemSourceMapUnmap(t *testing.T) {
	source := pages.SystemSource{}
	pageSize := source.PageSize()
	require.Greater(t, pageSize, 0)

	region, err := source.Map(4 * pageSize)
	require.NoError(t, err)
	require.Len(t, region, 4*pageSize)

	for _, b := range region {
		require.Equal(t, byte(0), b)
	}

	region[0] = 0xAB
	region[len(region)-1] = 0xCD
	require.Equal(t, byte(0xAB), region[0])

	require.NoError(t, source.Unmap(region))
}

func TestSystemSourceRejectsPartialPages(t *testing.T) {
	source := pages.SystemSource{}

	_, err := source.Map(source.PageSize() + 1)
	require.Error(t, err)

	_, err = source.Map(0)
	require.Error(t, err)
}

func TestRoundToPages(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mock_pages.NewMockSource(ctrl)
	source.EXPECT().PageSize().AnyTimes().Return(4096)

	size, err := pages.RoundToPages(source, 1)
	require.NoError(t, err)
	require.Equal(t, 4096, size)

	size, err = pages.RoundToPages(source, 8192)
	require.NoError(t, err)
	require.Equal(t, 8192, size)

	size, err = pages.RoundToPages(source, 8193)
	require.NoError(t, err)
	require.Equal(t, 12288, size)

	_, err = pages.RoundToPages(source, 0)
	require.Error(t, err)
}

func TestRoundToPagesBadPageSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mock_pages.NewMockSource(ctrl)
	source.EXPECT().PageSize().Return(3000)

	_, err := pages.RoundToPages(source, 100)
	require.Error(t, err)
}
