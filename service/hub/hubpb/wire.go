package hubpb

import (
	"google.golang.org/protobuf/encoding/protowire"

	"shuttle/tools/errs"
)

// field is one decoded tag/value pair. raw holds the full encoding, tag included,
// so fields we do not model can be written back untouched.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
	raw    []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errs.ErrDecode.WrapCause(protowire.ParseError(n), "tag")
		}
		f := field{num: num, typ: typ}
		var m int
		switch typ {
		case protowire.VarintType:
			f.varint, m = protowire.ConsumeVarint(b[n:])
		case protowire.Fixed32Type:
			var v uint32
			v, m = protowire.ConsumeFixed32(b[n:])
			f.varint = uint64(v)
		case protowire.Fixed64Type:
			f.varint, m = protowire.ConsumeFixed64(b[n:])
		case protowire.BytesType:
			f.bytes, m = protowire.ConsumeBytes(b[n:])
		default:
			m = protowire.ConsumeFieldValue(num, typ, b[n:])
		}
		if m < 0 {
			return nil, errs.ErrDecode.WrapCause(protowire.ParseError(m), "field", "num", num)
		}
		f.raw = b[:n+m]
		out = append(out, f)
		b = b[n+m:]
	}
	return out, nil
}

func (f field) isVarint() bool { return f.typ == protowire.VarintType }
func (f field) isBytes() bool  { return f.typ == protowire.BytesType }

// copyBytes detaches a bytes field from the input buffer.
func (f field) copyBytes() []byte {
	if f.bytes == nil {
		return nil
	}
	return append([]byte{}, f.bytes...)
}

// uint64s reads a repeated scalar that may be sent packed or unpacked.
func (f field) uint64s() ([]uint64, error) {
	if f.isVarint() {
		return []uint64{f.varint}, nil
	}
	if !f.isBytes() {
		return nil, errs.ErrDecode.WrapMsg("unexpected wire type for repeated scalar", "num", f.num)
	}
	var out []uint64
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, errs.ErrDecode.WrapCause(protowire.ParseError(n), "packed", "num", f.num)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendOptionalVarint writes v even when zero, for proto3 optional fields.
func appendOptionalVarint(b []byte, num protowire.Number, v *uint64) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, *v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessage writes an embedded message; present messages are written even when empty.
func appendMessage(b []byte, num protowire.Number, m marshaler) ([]byte, error) {
	enc, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, enc), nil
}

func appendPacked(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

type marshaler interface {
	Marshal() ([]byte, error)
}

type unmarshaler interface {
	Unmarshal([]byte) error
}

func u64ptr(v uint64) *uint64 { return &v }

func num(n int32) protowire.Number { return protowire.Number(n) }
