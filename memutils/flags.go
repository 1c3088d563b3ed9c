package memutils

import (
	"math/bits"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// FlagStringMapping renders bitflag values as a pipe-separated list of registered names
type FlagStringMapping[T constraints.Unsigned] struct {
	names map[T]string
	zero  string
}

// NewFlagStringMapping creates an empty mapping. zero is the string used for a value with no bits set.
func NewFlagStringMapping[T constraints.Unsigned](zero string) FlagStringMapping[T] {
	return FlagStringMapping[T]{
		names: make(map[T]string),
		zero:  zero,
	}
}

// Register associates a single-bit value with a name
func (m FlagStringMapping[T]) Register(value T, name string) {
	m.names[value] = name
}

// FlagsToString renders every set bit in value, lowest bit first. Bits without a registered name are
// rendered in hex.
func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return m.zero
	}

	var sb strings.Builder
	for value != 0 {
		bit := T(1) << bits.TrailingZeros64(uint64(value))
		value &^= bit

		if sb.Len() > 0 {
			sb.WriteRune('|')
		}

		name, ok := m.names[bit]
		if !ok {
			sb.WriteString("0x")
			sb.WriteString(strings.ToUpper(strconv.FormatUint(uint64(bit), 16)))
			continue
		}
		sb.WriteString(name)
	}

	return sb.String()
}
