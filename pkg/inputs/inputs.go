// Package inputs defines the opaque payload the core drives a target with.
// The core only needs inputs to be cloneable and serializable; it never
// inspects their contents itself.
package inputs

import "bytes"

// Input is the payload an Executor consumes. Implementations are value
// types: ownership transfers to the corpus on insertion, so Clone must
// return an independent copy safe to mutate afterward.
type Input interface {
	// Bytes exposes a byte view of the input, when one is meaningful.
	Bytes() []byte
	// Clone returns a deep, independent copy.
	Clone() Input
}

// BytesInput is the canonical Input: a flat byte buffer, the shape every
// mutator in this repo produces and every HTTP-body-driven target expects.
type BytesInput struct {
	Data []byte
}

// New wraps data in a BytesInput. data is copied defensively.
func New(data []byte) *BytesInput {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &BytesInput{Data: cp}
}

func (b *BytesInput) Bytes() []byte {
	return b.Data
}

func (b *BytesInput) Clone() Input {
	cp := make([]byte, len(b.Data))
	copy(cp, b.Data)
	return &BytesInput{Data: cp}
}

// Equal reports whether two inputs carry identical bytes.
func Equal(a, b Input) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}
