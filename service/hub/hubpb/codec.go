package hubpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Codec lets grpc carry the hand-written hub messages. It registers under the
// standard "proto" content subtype so the hub sees ordinary protobuf traffic.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(marshaler)
	if !ok {
		return nil, fmt.Errorf("hubpb: cannot marshal %T", v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(unmarshaler)
	if !ok {
		return fmt.Errorf("hubpb: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}
