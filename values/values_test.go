package values_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/heap"
	mock_pages "github.com/kai-lang/memory/memutils/pages/mocks"
	"github.com/kai-lang/memory/values"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const pageSize = 4096

func newHeap(t *testing.T) *heap.Heap {
	ctrl := gomock.NewController(t)
	source := mock_pages.NewMockSource(ctrl)
	source.EXPECT().PageSize().Return(pageSize).AnyTimes()
	source.EXPECT().Map(gomock.Any()).DoAndReturn(func(size int) ([]byte, error) {
		return make([]byte, size), nil
	}).AnyTimes()
	source.EXPECT().Unmap(gomock.Any()).Return(nil).AnyTimes()

	h, err := heap.New(nil, heap.CreateOptions{
		InitialSegmentSize: pageSize,
		GrowthSegmentSize:  pageSize,
		PageSource:         source,
	})
	require.NoError(t, err)
	return h
}

func integers(t *testing.T, h *heap.Heap, numbers ...int64) []heap.Ref {
	refs := make([]heap.Ref, 0, len(numbers))
	for _, number := range numbers {
		ref, _, err := values.NewInteger(h, number)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	return refs
}

func TestScalars(t *testing.T) {
	h := newHeap(t)

	_, integer, err := values.NewInteger(h, -42)
	require.NoError(t, err)
	require.Equal(t, int64(-42), integer.Value())
	integer.Set(7)
	require.Equal(t, int64(7), integer.Value())

	_, other, err := values.NewInteger(h, 9)
	require.NoError(t, err)
	require.Equal(t, -1, integer.Compare(other))
	require.Equal(t, 1, other.Compare(integer))
	require.Equal(t, 0, other.Compare(other))

	ref, str, err := values.NewString(h, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", str.Value())

	_, empty, err := values.NewString(h, "")
	require.NoError(t, err)
	require.Equal(t, "", empty.Value())
	require.Equal(t, 1, str.Compare(empty))

	code, err := values.ToCode(h, ref)
	require.NoError(t, err)
	require.Equal(t, `"hello"`, code)
	require.NoError(t, h.Validate())
}

func TestListSurvivesWhileRetained(t *testing.T) {
	h := newHeap(t)

	list, err := values.List(h, integers(t, h, 1, 2, 3)...)
	require.NoError(t, err)

	count, err := values.Count(h, list)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	handle, err := h.Hold(list)
	require.NoError(t, err)

	h.Collect()
	require.Equal(t, 6, h.AllocationCount())

	code, err := values.ToCode(h, list)
	require.NoError(t, err)
	require.Equal(t, "(1 2 3)", code)

	require.NoError(t, handle.Release())
	h.Collect()
	require.Equal(t, 0, h.AllocationCount())
	require.False(t, h.Live(list))
	require.NoError(t, h.Validate())
}

func TestEmptyList(t *testing.T) {
	h := newHeap(t)

	list, err := values.List(h)
	require.NoError(t, err)
	require.True(t, list.IsNil())

	count, err := values.Count(h, list)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestCellAppendAndImproperLists(t *testing.T) {
	h := newHeap(t)
	numbers := integers(t, h, 1, 2, 3)

	first, cell, err := values.NewCell(h, numbers[0], heap.Nil)
	require.NoError(t, err)
	_, second, err := cell.Append(h, numbers[1])
	require.NoError(t, err)

	items, err := values.Items(h, first)
	require.NoError(t, err)
	require.Equal(t, numbers[:2], items)

	second.SetTail(numbers[2])
	code, err := values.ToCode(h, first)
	require.NoError(t, err)
	require.Equal(t, "(1 2 . 3)", code)

	// Circular lists are rendered, but can't be counted
	second.SetTail(first)
	code, err = values.ToCode(h, first)
	require.NoError(t, err)
	require.Equal(t, "(1 2 . ...)", code)

	_, err = values.Count(h, first)
	require.Error(t, err)
}

func TestSymbolTable(t *testing.T) {
	h := newHeap(t)
	symbols := values.NewSymbolTable(h)

	hello, err := symbols.Intern("hello")
	require.NoError(t, err)
	again, err := symbols.Intern("hello")
	require.NoError(t, err)
	require.Equal(t, hello, again)

	world, err := symbols.Intern("world")
	require.NoError(t, err)
	require.NotEqual(t, hello, world)
	require.Equal(t, 2, symbols.Len())

	looked, ok := symbols.Lookup("world")
	require.True(t, ok)
	require.Equal(t, world, looked)
	_, ok = symbols.Lookup("missing")
	require.False(t, ok)

	// Interned symbols are roots
	require.Equal(t, 0, h.Collect())
	symbol, err := values.As[*values.Symbol](h, hello)
	require.NoError(t, err)
	require.Equal(t, "hello", symbol.Name())
	require.Equal(t, values.SymbolHash("hello"), symbol.Hash())
	require.Equal(t, uint32(532), symbol.Hash())

	other, err := values.As[*values.Symbol](h, world)
	require.NoError(t, err)
	require.Equal(t, -1, symbol.Compare(other))

	require.NoError(t, symbols.Release())
	require.Equal(t, 0, symbols.Len())
	require.Equal(t, 1, h.Collect())
	require.False(t, h.Live(hello))
}

func TestTablePrototypes(t *testing.T) {
	h := newHeap(t)
	symbols := values.NewSymbolTable(h)

	name, err := symbols.Intern("name")
	require.NoError(t, err)
	size, err := symbols.Intern("size")
	require.NoError(t, err)
	numbers := integers(t, h, 10, 20, 30)

	base, baseTable, err := values.NewTable(h, heap.Nil, 0)
	require.NoError(t, err)
	require.True(t, baseTable.Update(name, numbers[0]).IsNil())
	require.True(t, baseTable.Update(size, numbers[1]).IsNil())

	derived, table, err := values.NewTable(h, base, 4)
	require.NoError(t, err)
	require.Equal(t, base, table.Prototype())

	_, ok := table.Find(name)
	require.False(t, ok)

	value, ok, err := table.Lookup(h, name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, numbers[0], value)

	require.True(t, table.Update(name, numbers[2]).IsNil())
	value, ok, err = table.Lookup(h, name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, numbers[2], value)

	code, err := values.ToCode(h, derived)
	require.NoError(t, err)
	require.Equal(t, "(table `name 30)", code)

	// The prototype and everything it holds survive through the derived table
	handle, err := h.Hold(derived)
	require.NoError(t, err)
	require.Equal(t, 0, h.Collect())
	require.True(t, h.Live(base))
	require.True(t, h.Live(numbers[1]))

	require.Equal(t, numbers[2], table.Remove(name))
	require.True(t, table.Remove(name).IsNil())
	require.Equal(t, 0, table.Len())
	h.Collect()
	require.False(t, h.Live(numbers[2]))
	require.True(t, h.Live(numbers[0]))

	// Circular prototype chains are detected
	baseTable.SetPrototype(derived)
	missing, err := symbols.Intern("missing")
	require.NoError(t, err)
	_, _, err = table.Lookup(h, missing)
	require.Error(t, err)

	require.NoError(t, handle.Release())
	require.NoError(t, symbols.Release())
	h.Collect()
	require.Equal(t, 0, h.AllocationCount())
	require.NoError(t, h.Validate())
}

func TestFrames(t *testing.T) {
	h := newHeap(t)
	symbols := values.NewSymbolTable(h)
	defer func() { require.NoError(t, symbols.Release()) }()

	x, err := symbols.Intern("x")
	require.NoError(t, err)
	y, err := symbols.Intern("y")
	require.NoError(t, err)
	numbers := integers(t, h, 1, 2)

	globals, _, err := values.NewTable(h, heap.Nil, 0)
	require.NoError(t, err)
	locals, _, err := values.NewTable(h, heap.Nil, 0)
	require.NoError(t, err)

	outerRef, outer, err := values.NewFrame(h, globals)
	require.NoError(t, err)
	require.Equal(t, 0, outer.Depth())
	outer.SetFunction(numbers[0])

	_, err = outer.Update(h, x, numbers[0])
	require.NoError(t, err)

	message, err := values.List(h, x)
	require.NoError(t, err)

	innerRef, inner, err := values.NewChildFrame(h, outerRef, locals, message)
	require.NoError(t, err)
	require.Equal(t, 1, inner.Depth())
	require.Equal(t, outerRef, inner.Previous())
	require.Equal(t, message, inner.Message())
	require.Equal(t, numbers[0], inner.Function())
	require.Equal(t, outerRef.Segment(), innerRef.Segment())

	_, err = inner.Update(h, y, numbers[1])
	require.NoError(t, err)

	value, ok, err := inner.Lookup(h, x)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, numbers[0], value)

	_, ok, err = outer.Lookup(h, y)
	require.NoError(t, err)
	require.False(t, ok)

	code, err := values.ToCode(h, innerRef)
	require.NoError(t, err)
	require.Equal(t, "(frame 1)", code)

	// Holding the innermost frame keeps the whole chain alive
	handle, err := h.Hold(innerRef)
	require.NoError(t, err)
	require.Equal(t, 0, h.Collect())
	require.True(t, h.Live(globals))
	require.True(t, h.Live(message))
	require.NoError(t, handle.Release())

	h.Collect()
	require.False(t, h.Live(outerRef))
	require.False(t, h.Live(numbers[1]))
}

func TestLambda(t *testing.T) {
	h := newHeap(t)
	symbols := values.NewSymbolTable(h)
	defer func() { require.NoError(t, symbols.Release()) }()

	x, err := symbols.Intern("x")
	require.NoError(t, err)
	arguments, err := values.List(h, x)
	require.NoError(t, err)
	code, err := values.List(h, x, x)
	require.NoError(t, err)

	ref, lambda, err := values.NewLambda(h, heap.Nil, arguments, code)
	require.NoError(t, err)
	require.False(t, lambda.IsMacro())
	require.Equal(t, arguments, lambda.Arguments())
	require.Equal(t, code, lambda.Code())
	require.True(t, lambda.Scope().IsNil())

	rendered, err := values.ToCode(h, ref)
	require.NoError(t, err)
	require.Equal(t, "(lambda (x) (x x))", rendered)

	lambda.SetMacro(true)
	rendered, err = values.ToCode(h, ref)
	require.NoError(t, err)
	require.Equal(t, "(macro (x) (x x))", rendered)

	require.NoError(t, h.Retain(ref))
	require.Equal(t, 0, h.Collect())
	require.True(t, h.Live(code))
	require.NoError(t, h.Release(ref))
}

func TestAsWrongType(t *testing.T) {
	h := newHeap(t)

	ref, _, err := values.NewInteger(h, 1)
	require.NoError(t, err)

	_, err = values.As[*values.String](h, ref)
	require.True(t, errors.Is(err, values.ErrWrongType))

	h.Collect()
	_, err = values.As[*values.Integer](h, ref)
	require.True(t, errors.Is(err, heap.ErrForeignReference))
}
