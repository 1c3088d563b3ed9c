package values

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/heap"
)

// ToCode renders the value identified by ref as source code. A value that contains itself is rendered
// as "..." where it recurs.
func ToCode(h *heap.Heap, ref heap.Ref) (string, error) {
	p := printer{heap: h, marks: make(map[heap.Ref]struct{})}
	err := p.print(ref)
	if err != nil {
		return "", err
	}
	return p.buffer.String(), nil
}

type printer struct {
	heap   *heap.Heap
	buffer strings.Builder
	marks  map[heap.Ref]struct{}
}

func (p *printer) print(ref heap.Ref) error {
	if ref.IsNil() {
		p.buffer.WriteString("nil")
		return nil
	}

	if _, marked := p.marks[ref]; marked {
		p.buffer.WriteString("...")
		return nil
	}
	p.marks[ref] = struct{}{}
	defer delete(p.marks, ref)

	object, ok := p.heap.Object(ref)
	if !ok {
		return errors.Wrapf(heap.ErrForeignReference, "%s has no value attached", ref)
	}

	switch value := object.(type) {
	case *Integer:
		p.buffer.WriteString(strconv.FormatInt(value.Value(), 10))
	case *String:
		p.buffer.WriteString(strconv.Quote(value.Value()))
	case *Symbol:
		p.buffer.WriteString(value.Name())
	case *Cell:
		return p.printCell(value)
	case *Table:
		return p.printTable(value)
	case *Lambda:
		return p.printLambda(value)
	case *Frame:
		p.buffer.WriteString("(frame ")
		p.buffer.WriteString(strconv.Itoa(value.Depth()))
		p.buffer.WriteString(")")
	default:
		return errors.Wrapf(ErrWrongType, "%s is %T, which has no code representation", ref, object)
	}
	return nil
}

func (p *printer) printCell(cell *Cell) error {
	p.buffer.WriteString("(")
	for {
		err := p.print(cell.Head())
		if err != nil {
			return err
		}

		tail := cell.Tail()
		if tail.IsNil() {
			break
		}

		next, err := As[*Cell](p.heap, tail)
		if err != nil || p.isMarked(tail) {
			// Improper list
			p.buffer.WriteString(" . ")
			if err := p.print(tail); err != nil {
				return err
			}
			break
		}

		p.buffer.WriteString(" ")
		p.marks[tail] = struct{}{}
		defer delete(p.marks, tail)
		cell = next
	}
	p.buffer.WriteString(")")
	return nil
}

func (p *printer) isMarked(ref heap.Ref) bool {
	_, marked := p.marks[ref]
	return marked
}

type tableEntry struct {
	name  string
	key   heap.Ref
	value heap.Ref
}

func (p *printer) printTable(table *Table) error {
	var entries []tableEntry
	var err error
	table.Each(func(key, value heap.Ref) bool {
		var symbol *Symbol
		symbol, err = As[*Symbol](p.heap, key)
		if err != nil {
			return false
		}
		entries = append(entries, tableEntry{name: symbol.Name(), key: key, value: value})
		return true
	})
	if err != nil {
		return errors.Wrap(err, "table key")
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})

	p.buffer.WriteString("(table")
	for _, entry := range entries {
		p.buffer.WriteString(" `")
		p.buffer.WriteString(entry.name)
		p.buffer.WriteString(" ")
		if err := p.print(entry.value); err != nil {
			return err
		}
	}
	p.buffer.WriteString(")")
	return nil
}

func (p *printer) printLambda(lambda *Lambda) error {
	if lambda.IsMacro() {
		p.buffer.WriteString("(macro ")
	} else {
		p.buffer.WriteString("(lambda ")
	}

	if err := p.print(lambda.Arguments()); err != nil {
		return err
	}
	p.buffer.WriteString(" ")
	if err := p.print(lambda.Code()); err != nil {
		return err
	}
	p.buffer.WriteString(")")
	return nil
}
