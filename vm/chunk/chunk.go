// Package chunk implements the on-disk form of compiled lumen code. A
// chunk is a prototype tree plus a content hash, encoded as canonical CBOR
// so that equal prototypes always produce equal bytes.
package chunk

import "github.com/chazu/lumen/vm"

// Chunk is the unit handed from a compiler front end to the VM.
type Chunk struct {
	Hash [32]byte      `cbor:"1,keyasint"`
	Name string        `cbor:"2,keyasint"`
	Main *vm.Prototype `cbor:"3,keyasint"`
}

// Stats summarizes the size of a chunk.
type Stats struct {
	Functions    int
	Instructions int
	Constants    int
	Upvalues     int
}

// Stats walks the prototype tree and counts its contents.
func (c *Chunk) Stats() Stats {
	var s Stats
	var walk func(p *vm.Prototype)
	walk = func(p *vm.Prototype) {
		s.Functions++
		s.Instructions += len(p.Code)
		s.Constants += len(p.Constants)
		s.Upvalues += len(p.Upvalues)
		for _, child := range p.Protos {
			walk(child)
		}
	}
	if c.Main != nil {
		walk(c.Main)
	}
	return s
}
