package values

import (
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/kai-lang/memory/heap"
)

const symbolHashSize = 4

// Symbol is an interned name. Its payload holds the hash of the name, then the length and bytes of the
// name itself.
type Symbol struct {
	payload []byte
}

var _ heap.Object = &Symbol{}

// SymbolHash sums the bytes of name
func SymbolHash(name string) uint32 {
	var sum uint32
	for index := 0; index < len(name); index++ {
		sum += uint32(name[index])
	}
	return sum
}

// NewSymbol allocates a symbol that is not interned. Symbols are normally created through a SymbolTable.
func NewSymbol(h *heap.Heap, name string) (heap.Ref, *Symbol, error) {
	var symbol *Symbol
	size := symbolHashSize + lengthSize + len(name)
	ref, err := h.Construct(size, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		binary.LittleEndian.PutUint32(payload, SymbolHash(name))
		putLength(payload[symbolHashSize:], len(name))
		copy(payload[symbolHashSize+lengthSize:], name)
		symbol = &Symbol{payload: payload[:size]}
		return symbol, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, symbol, nil
}

func (s *Symbol) Name() string {
	length := readLength(s.payload[symbolHashSize:])
	return string(s.payload[symbolHashSize+lengthSize : symbolHashSize+lengthSize+length])
}

func (s *Symbol) Hash() uint32 {
	return binary.LittleEndian.Uint32(s.payload)
}

// Compare orders symbols by hash, then by name
func (s *Symbol) Compare(other *Symbol) int {
	if s.Hash() != other.Hash() {
		if s.Hash() < other.Hash() {
			return -1
		}
		return 1
	}
	return strings.Compare(s.Name(), other.Name())
}

func (s *Symbol) Trace(visit func(heap.Ref)) {}

// SymbolTable interns symbols so that every name maps to exactly one Symbol. Interned symbols are held
// by the table and survive collection until the table is released.
//
// A SymbolTable is not safe for concurrent use.
type SymbolTable struct {
	heap    *heap.Heap
	symbols *swiss.Map[string, *heap.Handle]
}

func NewSymbolTable(h *heap.Heap) *SymbolTable {
	return &SymbolTable{
		heap:    h,
		symbols: swiss.NewMap[string, *heap.Handle](64),
	}
}

// Intern returns the symbol named name, creating it if it does not exist yet
func (t *SymbolTable) Intern(name string) (heap.Ref, error) {
	if handle, ok := t.symbols.Get(name); ok {
		return handle.Ref(), nil
	}

	ref, _, err := NewSymbol(t.heap, name)
	if err != nil {
		return heap.Nil, err
	}

	handle, err := t.heap.Hold(ref)
	if err != nil {
		return heap.Nil, err
	}

	t.symbols.Put(name, handle)
	return ref, nil
}

// Lookup returns the symbol named name if it has been interned
func (t *SymbolTable) Lookup(name string) (heap.Ref, bool) {
	handle, ok := t.symbols.Get(name)
	if !ok {
		return heap.Nil, false
	}
	return handle.Ref(), true
}

func (t *SymbolTable) Len() int {
	return t.symbols.Count()
}

// Release gives up the table's hold on every interned symbol and empties the table
func (t *SymbolTable) Release() error {
	var err error
	t.symbols.Iter(func(name string, handle *heap.Handle) bool {
		if releaseErr := handle.Release(); releaseErr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(releaseErr, "symbol %q", name))
		}
		return false
	})

	t.symbols = swiss.NewMap[string, *heap.Handle](64)
	return err
}
