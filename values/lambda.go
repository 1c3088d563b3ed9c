package values

import "github.com/kai-lang/memory/heap"

const (
	lambdaScope = iota
	lambdaArguments
	lambdaCode
	lambdaFields
)

const (
	lambdaMacroOffset = lambdaFields * heap.RefSize
	lambdaSize        = lambdaMacroOffset + 1
)

// Lambda is a closure: a list of argument names and a body of code, closed over the frame it was
// created in. A macro receives its arguments unevaluated.
type Lambda struct {
	payload []byte
	fields  refs
}

var _ heap.Object = &Lambda{}

func NewLambda(h *heap.Heap, scope, arguments, code heap.Ref) (heap.Ref, *Lambda, error) {
	var lambda *Lambda
	ref, err := h.Construct(lambdaSize, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		lambda = &Lambda{
			payload: payload[:lambdaSize],
			fields:  refs(payload[:lambdaMacroOffset]),
		}
		lambda.fields.set(lambdaScope, scope)
		lambda.fields.set(lambdaArguments, arguments)
		lambda.fields.set(lambdaCode, code)
		lambda.SetMacro(false)
		return lambda, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, lambda, nil
}

func (l *Lambda) Scope() heap.Ref { return l.fields.get(lambdaScope) }

func (l *Lambda) Arguments() heap.Ref { return l.fields.get(lambdaArguments) }

func (l *Lambda) Code() heap.Ref { return l.fields.get(lambdaCode) }

func (l *Lambda) IsMacro() bool { return l.payload[lambdaMacroOffset] != 0 }

func (l *Lambda) SetMacro(macro bool) {
	if macro {
		l.payload[lambdaMacroOffset] = 1
	} else {
		l.payload[lambdaMacroOffset] = 0
	}
}

func (l *Lambda) Trace(visit func(heap.Ref)) {
	l.fields.trace(lambdaFields, visit)
}
