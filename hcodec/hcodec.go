// Package hcodec is the opaque header-codec adapter spec.md §1 requires:
// "HPACK/QPACK implementations treated as opaque codecs with a defined
// API." It never reimplements RFC 7541/9204 itself; it wraps the real
// HPACK implementation the teacher already carries transitively
// (golang.org/x/net/http2/hpack, via its golang.org/x/net dependency).
package hcodec

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// Field is one decoded header field, mirroring dgrr-http2/headerField.go's
// Field type (name/value pair with a sensitivity bit for HPACK's
// never-indexed representation).
type Field struct {
	Name, Value string
	Sensitive   bool
}

// Coder is the interface both the h2 (HPACK) and h3 (QPACK) header codecs
// satisfy. The stream engine and connection engine only ever see a Coder,
// never a concrete codec — this is what lets netcore's tests substitute a
// fake.
type Coder interface {
	// Encode appends the wire encoding of fields to dst.
	Encode(dst []byte, fields []Field) ([]byte, error)
	// Decode parses a complete header block (already reassembled from any
	// CONTINUATION frames by the stream engine) into a field list.
	Decode(block []byte) ([]Field, error)
	// SetMaxDynamicTableSize applies a peer-advertised table-size change
	// (h2 SETTINGS_HEADER_TABLE_SIZE).
	SetMaxDynamicTableSize(size uint32)
}

// HPACKCoder adapts golang.org/x/net/http2/hpack to Coder for HTTP/2
// connections.
type HPACKCoder struct {
	enc    *hpack.Encoder
	encBuf bytes.Buffer
	dec    *hpack.Decoder
}

// NewHPACKCoder returns a coder with RFC 7541's default 4096-byte dynamic
// table on both sides.
func NewHPACKCoder() *HPACKCoder {
	c := &HPACKCoder{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(4096, nil)
	return c
}

func (c *HPACKCoder) Encode(dst []byte, fields []Field) ([]byte, error) {
	c.encBuf.Reset()
	for _, f := range fields {
		if err := c.enc.WriteField(hpack.HeaderField{
			Name:      f.Name,
			Value:     f.Value,
			Sensitive: f.Sensitive,
		}); err != nil {
			return dst, err
		}
	}
	return append(dst, c.encBuf.Bytes()...), nil
}

func (c *HPACKCoder) Decode(block []byte) ([]Field, error) {
	hfs, err := c.dec.DecodeFull(block)
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(hfs))
	for i, hf := range hfs {
		out[i] = Field{Name: hf.Name, Value: hf.Value, Sensitive: hf.Sensitive}
	}
	return out, nil
}

func (c *HPACKCoder) SetMaxDynamicTableSize(size uint32) {
	c.enc.SetMaxDynamicTableSize(size)
	c.dec.SetMaxDynamicTableSize(size)
}

// OpaqueQPACK is netcore's h3 header codec. RFC 9204 QPACK differs from
// HPACK in two load-bearing ways this build does not attempt: header
// blocks can reference dynamic-table entries out of arrival order (via a
// separate encoder/decoder stream pair), and insert-count/base prefix
// integers replace HPACK's single-pass indexing. Reimplementing that is
// explicitly out of scope (spec.md §1). OpaqueQPACK instead wraps the HPACK
// coder with its dynamic table capacity pinned to zero: blocks hold only
// static-table references and literals, in HPACK's representation (no
// RFC 9204 field-section prefix, HPACK's static table). See DESIGN.md's
// Header codec adapter entry.
type OpaqueQPACK struct {
	*HPACKCoder
}

// NewOpaqueQPACK returns a QPACK-shaped coder with its dynamic table held
// at zero capacity.
func NewOpaqueQPACK() *OpaqueQPACK {
	c := &OpaqueQPACK{HPACKCoder: NewHPACKCoder()}
	c.SetMaxDynamicTableSize(0)
	return c
}

func (c *OpaqueQPACK) SetMaxDynamicTableSize(uint32) {
	// Pinned to zero: see the type doc comment. Peer-advertised capacity
	// changes are acknowledged but never applied.
	c.HPACKCoder.SetMaxDynamicTableSize(0)
}
