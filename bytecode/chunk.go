package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Chunk is the serialized form of a compiled procedure, suitable for
// caching on disk or shipping between processes. The hash lets a
// receiver verify the chunk against a recompile of the same source.
type Chunk struct {
	Hash     [32]byte `cbor:"1,keyasint"`
	Name     string   `cbor:"2,keyasint"`
	Params   []string `cbor:"3,keyasint,omitempty"`
	Code     []byte   `cbor:"4,keyasint"`
	Literals []string `cbor:"5,keyasint,omitempty"`
	MaxStack int      `cbor:"6,keyasint"`
}

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProc serializes a compiled procedure to CBOR bytes.
func MarshalProc(p *Proc) ([]byte, error) {
	c := Chunk{
		Hash:     p.ContentHash(),
		Name:     p.Name,
		Params:   p.Params,
		Code:     p.Code,
		Literals: p.Literals,
		MaxStack: p.MaxStack,
	}
	return cborEncMode.Marshal(&c)
}

// UnmarshalProc deserializes a compiled procedure from CBOR bytes,
// verifying the embedded content hash.
func UnmarshalProc(data []byte) (*Proc, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	p := &Proc{
		Name:     c.Name,
		Params:   c.Params,
		Code:     c.Code,
		Literals: c.Literals,
		MaxStack: c.MaxStack,
	}
	if p.ContentHash() != c.Hash {
		return nil, fmt.Errorf("bytecode: chunk hash mismatch for %q", c.Name)
	}
	return p, nil
}
