package chunk

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/chazu/lumen/vm"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is the canonical encoding used for both the wire format and
// content hashing.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("chunk: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Errors reported while decoding.
var (
	ErrNoMain       = errors.New("chunk: missing main prototype")
	ErrHashMismatch = errors.New("chunk: hash mismatch")
)

// HashPrototype returns the sha256 of the canonical encoding of p.
func HashPrototype(p *vm.Prototype) ([32]byte, error) {
	data, err := cborEncMode.Marshal(p)
	if err != nil {
		return [32]byte{}, fmt.Errorf("chunk: encode prototype: %w", err)
	}
	return sha256.Sum256(data), nil
}

// New verifies p and wraps it in a chunk with its content hash.
func New(name string, p *vm.Prototype) (*Chunk, error) {
	if p == nil {
		return nil, ErrNoMain
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	h, err := HashPrototype(p)
	if err != nil {
		return nil, err
	}
	return &Chunk{Hash: h, Name: name, Main: p}, nil
}

// Marshal serializes a Chunk to CBOR bytes.
func Marshal(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// Unmarshal deserializes a Chunk, checks its hash and verifies the main
// prototype.
func Unmarshal(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal: %w", err)
	}
	if c.Main == nil {
		return nil, ErrNoMain
	}
	h, err := HashPrototype(c.Main)
	if err != nil {
		return nil, err
	}
	if h != c.Hash {
		return nil, fmt.Errorf("%w: declared %x, computed %x", ErrHashMismatch, c.Hash, h)
	}
	if err := c.Main.Validate(); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	return &c, nil
}

// ReadFile loads a chunk from path.
func ReadFile(path string) (*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteFile stores c at path.
func WriteFile(path string, c *Chunk) error {
	data, err := Marshal(c)
	if err != nil {
		return fmt.Errorf("chunk: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	return nil
}
