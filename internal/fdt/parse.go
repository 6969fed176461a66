package fdt

import (
	"encoding/binary"
	"fmt"
)

// Parse decodes a flattened device-tree blob produced by Build back into a
// Node tree. Every property is decoded as raw Bytes: Parse has no way to
// know a property's original typed kind (string list vs u32 array vs plain
// bytes) from the wire format alone, so callers that need a typed value
// (an ADT walker, for instance) re-interpret Bytes themselves using the
// property's well-known name and expected width.
func Parse(blob []byte) (Node, error) {
	if len(blob) < fdtHeaderSize {
		return Node{}, fmt.Errorf("fdt: blob too small for header")
	}
	if magic := binary.BigEndian.Uint32(blob[0:4]); magic != fdtMagic {
		return Node{}, fmt.Errorf("fdt: bad magic 0x%08x", magic)
	}

	offStruct := binary.BigEndian.Uint32(blob[8:12])
	offStrings := binary.BigEndian.Uint32(blob[12:16])
	sizeStrings := binary.BigEndian.Uint32(blob[32:36])
	sizeStruct := binary.BigEndian.Uint32(blob[36:40])

	if int(offStruct+sizeStruct) > len(blob) || int(offStrings+sizeStrings) > len(blob) {
		return Node{}, fmt.Errorf("fdt: header offsets exceed blob length")
	}

	p := &parser{
		structure: blob[offStruct : offStruct+sizeStruct],
		strings:   blob[offStrings : offStrings+sizeStrings],
	}

	root, err := p.parseNode()
	if err != nil {
		return Node{}, err
	}
	return root, nil
}

type parser struct {
	structure []byte
	strings   []byte
	off       int
}

func (p *parser) readU32() (uint32, error) {
	if p.off+4 > len(p.structure) {
		return 0, fmt.Errorf("fdt: unexpected end of structure block")
	}
	v := binary.BigEndian.Uint32(p.structure[p.off : p.off+4])
	p.off += 4
	return v, nil
}

func (p *parser) readCString() (string, error) {
	start := p.off
	for p.off < len(p.structure) && p.structure[p.off] != 0 {
		p.off++
	}
	if p.off >= len(p.structure) {
		return "", fmt.Errorf("fdt: unterminated string in structure block")
	}
	s := string(p.structure[start:p.off])
	p.off++ // consume NUL
	p.align()
	return s, nil
}

func (p *parser) align() {
	for p.off%4 != 0 {
		p.off++
	}
}

func (p *parser) stringAt(off uint32) (string, error) {
	if int(off) >= len(p.strings) {
		return "", fmt.Errorf("fdt: string offset %d out of range", off)
	}
	end := int(off)
	for end < len(p.strings) && p.strings[end] != 0 {
		end++
	}
	return string(p.strings[off:end]), nil
}

// parseNode assumes the next token is FDT_BEGIN_NODE and consumes up to and
// including the matching FDT_END_NODE.
func (p *parser) parseNode() (Node, error) {
	token, err := p.readU32()
	if err != nil {
		return Node{}, err
	}
	if token != fdtBeginNodeToken {
		return Node{}, fmt.Errorf("fdt: expected BEGIN_NODE, got token %d", token)
	}

	name, err := p.readCString()
	if err != nil {
		return Node{}, err
	}

	n := Node{Name: name, Properties: make(map[string]Property)}

	for {
		token, err := p.readU32()
		if err != nil {
			return Node{}, err
		}
		switch token {
		case fdtPropToken:
			propName, data, err := p.parseProperty()
			if err != nil {
				return Node{}, err
			}
			n.Properties[propName] = Property{Bytes: data}
		case fdtBeginNodeToken:
			p.off -= 4 // unread so parseNode can re-consume BEGIN_NODE
			child, err := p.parseNode()
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, child)
		case fdtEndNodeToken:
			if len(n.Properties) == 0 {
				n.Properties = nil
			}
			return n, nil
		case fdtEndToken:
			return Node{}, fmt.Errorf("fdt: unexpected END token inside node %q", name)
		default:
			return Node{}, fmt.Errorf("fdt: unknown token %d in node %q", token, name)
		}
	}
}

func (p *parser) parseProperty() (string, []byte, error) {
	length, err := p.readU32()
	if err != nil {
		return "", nil, err
	}
	nameOff, err := p.readU32()
	if err != nil {
		return "", nil, err
	}
	name, err := p.stringAt(nameOff)
	if err != nil {
		return "", nil, err
	}
	if p.off+int(length) > len(p.structure) {
		return "", nil, fmt.Errorf("fdt: property %q length %d exceeds structure block", name, length)
	}
	data := make([]byte, length)
	copy(data, p.structure[p.off:p.off+int(length)])
	p.off += int(length)
	p.align()
	return name, data, nil
}
