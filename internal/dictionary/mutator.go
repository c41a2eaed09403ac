package dictionary

import (
	"context"
	"math/rand"

	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/stages"
)

// InsertMutator is a stages.Mutator that splices one dictionary payload
// into the parent input, either replacing a form-field value or inserting
// at a random offset. It is the "DictionaryInsert" strategy driven through
// the core's StdMutationalStage instead of a standalone scan loop.
type InsertMutator struct {
	payloads []Payload
}

// NewInsertMutator builds a mutator over the given payload set; nil means
// every payload list in this package.
func NewInsertMutator(payloads []Payload) *InsertMutator {
	if len(payloads) == 0 {
		payloads = AllPayloads()
	}
	return &InsertMutator{payloads: payloads}
}

func (m *InsertMutator) Mutate(ctx context.Context, rng *rand.Rand, input inputs.Input) (inputs.Input, error) {
	data := input.Bytes()
	payload := []byte(m.payloads[rng.Intn(len(m.payloads))].Value)

	if len(data) == 0 {
		return inputs.New(payload), nil
	}

	// Prefer replacing a value inside key=value pairs so the payload lands
	// where the target actually parses it; fall back to a raw splice.
	if out, ok := replaceFormValue(data, payload, rng); ok {
		return inputs.New(out), nil
	}

	pos := rng.Intn(len(data) + 1)
	out := make([]byte, 0, len(data)+len(payload))
	out = append(out, data[:pos]...)
	out = append(out, payload...)
	out = append(out, data[pos:]...)
	return inputs.New(out), nil
}

var _ stages.Mutator = (*InsertMutator)(nil)

// replaceFormValue substitutes the value of one randomly chosen k=v pair
// in an application/x-www-form-urlencoded body.
func replaceFormValue(data, payload []byte, rng *rand.Rand) ([]byte, bool) {
	var pairs [][2]int // [start, end) of each value segment
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '&' {
			seg := data[start:i]
			for j, b := range seg {
				if b == '=' {
					pairs = append(pairs, [2]int{start + j + 1, i})
					break
				}
			}
			start = i + 1
		}
	}
	if len(pairs) == 0 {
		return nil, false
	}

	p := pairs[rng.Intn(len(pairs))]
	out := make([]byte, 0, len(data)+len(payload))
	out = append(out, data[:p[0]]...)
	out = append(out, payload...)
	out = append(out, data[p[1]:]...)
	return out, true
}
