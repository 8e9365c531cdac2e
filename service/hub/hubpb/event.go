package hubpb

import (
	"encoding/hex"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

type HubEventType int32

const (
	HubEventTypeNone               HubEventType = 0
	HubEventTypeMergeMessage       HubEventType = 1
	HubEventTypePruneMessage       HubEventType = 2
	HubEventTypeRevokeMessage      HubEventType = 3
	HubEventTypeMergeUsernameProof HubEventType = 6
	HubEventTypeMergeOnChainEvent  HubEventType = 9
)

// DefaultEventTypes is the subscription filter used unless configured otherwise.
var DefaultEventTypes = []HubEventType{
	HubEventTypeMergeMessage,
	HubEventTypePruneMessage,
	HubEventTypeRevokeMessage,
	HubEventTypeMergeUsernameProof,
	HubEventTypeMergeOnChainEvent,
}

func (t HubEventType) String() string {
	switch t {
	case HubEventTypeMergeMessage:
		return "HUB_EVENT_TYPE_MERGE_MESSAGE"
	case HubEventTypePruneMessage:
		return "HUB_EVENT_TYPE_PRUNE_MESSAGE"
	case HubEventTypeRevokeMessage:
		return "HUB_EVENT_TYPE_REVOKE_MESSAGE"
	case HubEventTypeMergeUsernameProof:
		return "HUB_EVENT_TYPE_MERGE_USERNAME_PROOF"
	case HubEventTypeMergeOnChainEvent:
		return "HUB_EVENT_TYPE_MERGE_ON_CHAIN_EVENT"
	}
	return "HUB_EVENT_TYPE_" + strconv.Itoa(int(t))
}

// HubEvent is one entry of the hub's event log.
type HubEvent struct {
	Type HubEventType
	Id   uint64
	Body EventBody

	unknown []byte
}

// EventBody is one of MergeMessageBody, PruneMessageBody, RevokeMessageBody,
// MergeUserNameProofBody or MergeOnChainEventBody.
type EventBody interface {
	marshaler
	eventField() protowire.Number
}

type MergeMessageBody struct {
	Message         *Message
	DeletedMessages []*Message

	unknown []byte
}

type PruneMessageBody struct {
	Message *Message

	unknown []byte
}

type RevokeMessageBody struct {
	Message *Message

	unknown []byte
}

type MergeUserNameProofBody struct {
	UsernameProof               *UserNameProof
	DeletedUsernameProof        *UserNameProof
	UsernameProofMessage        *Message
	DeletedUsernameProofMessage *Message

	unknown []byte
}

type MergeOnChainEventBody struct {
	OnChainEvent *OnChainEvent

	unknown []byte
}

// OnChainEvent keeps the common header; the per-type body stays opaque.
type OnChainEvent struct {
	Type           int32
	ChainId        uint32
	BlockNumber    uint32
	BlockHash      []byte
	BlockTimestamp uint64
	TxHash         []byte
	LogIndex       uint32
	Fid            uint64

	unknown []byte
}

func (*MergeMessageBody) eventField() protowire.Number       { return 3 }
func (*PruneMessageBody) eventField() protowire.Number       { return 4 }
func (*RevokeMessageBody) eventField() protowire.Number      { return 5 }
func (*MergeUserNameProofBody) eventField() protowire.Number { return 8 }
func (*MergeOnChainEventBody) eventField() protowire.Number  { return 11 }

func (e *HubEvent) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*e = HubEvent{}
	for _, f := range fields {
		var body interface {
			EventBody
			unmarshaler
		}
		switch {
		case f.num == 1 && f.isVarint():
			e.Type = HubEventType(f.varint)
			continue
		case f.num == 2 && f.isVarint():
			e.Id = f.varint
			continue
		case f.num == 3 && f.isBytes():
			body = &MergeMessageBody{}
		case f.num == 4 && f.isBytes():
			body = &PruneMessageBody{}
		case f.num == 5 && f.isBytes():
			body = &RevokeMessageBody{}
		case f.num == 8 && f.isBytes():
			body = &MergeUserNameProofBody{}
		case f.num == 11 && f.isBytes():
			body = &MergeOnChainEventBody{}
		default:
			e.unknown = append(e.unknown, f.raw...)
			continue
		}
		if err := body.Unmarshal(f.bytes); err != nil {
			return err
		}
		e.Body = body
	}
	return nil
}

func (e *HubEvent) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(e.Type))
	b = appendVarint(b, 2, e.Id)
	if e.Body != nil {
		var err error
		if b, err = appendMessage(b, e.Body.eventField(), e.Body); err != nil {
			return nil, err
		}
	}
	return append(b, e.unknown...), nil
}

func (m *MergeMessageBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*m = MergeMessageBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			m.Message = &Message{}
			if err := m.Message.Unmarshal(f.bytes); err != nil {
				return err
			}
		case f.num == 2 && f.isBytes():
			msg := &Message{}
			if err := msg.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.DeletedMessages = append(m.DeletedMessages, msg)
		default:
			m.unknown = append(m.unknown, f.raw...)
		}
	}
	return nil
}

func (m *MergeMessageBody) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if m.Message != nil {
		if b, err = appendMessage(b, 1, m.Message); err != nil {
			return nil, err
		}
	}
	for _, d := range m.DeletedMessages {
		if b, err = appendMessage(b, 2, d); err != nil {
			return nil, err
		}
	}
	return append(b, m.unknown...), nil
}

func unmarshalSingleMessage(b []byte, dst **Message, unknown *[]byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.num == 1 && f.isBytes() {
			*dst = &Message{}
			if err := (*dst).Unmarshal(f.bytes); err != nil {
				return err
			}
			continue
		}
		*unknown = append(*unknown, f.raw...)
	}
	return nil
}

func marshalSingleMessage(m *Message, unknown []byte) ([]byte, error) {
	var b []byte
	if m != nil {
		var err error
		if b, err = appendMessage(b, 1, m); err != nil {
			return nil, err
		}
	}
	return append(b, unknown...), nil
}

func (p *PruneMessageBody) Unmarshal(b []byte) error {
	*p = PruneMessageBody{}
	return unmarshalSingleMessage(b, &p.Message, &p.unknown)
}

func (p *PruneMessageBody) Marshal() ([]byte, error) {
	return marshalSingleMessage(p.Message, p.unknown)
}

func (r *RevokeMessageBody) Unmarshal(b []byte) error {
	*r = RevokeMessageBody{}
	return unmarshalSingleMessage(b, &r.Message, &r.unknown)
}

func (r *RevokeMessageBody) Marshal() ([]byte, error) {
	return marshalSingleMessage(r.Message, r.unknown)
}

func (m *MergeUserNameProofBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*m = MergeUserNameProofBody{}
	for _, f := range fields {
		if !f.isBytes() {
			m.unknown = append(m.unknown, f.raw...)
			continue
		}
		switch f.num {
		case 1:
			m.UsernameProof = &UserNameProof{}
			err = m.UsernameProof.Unmarshal(f.bytes)
		case 2:
			m.DeletedUsernameProof = &UserNameProof{}
			err = m.DeletedUsernameProof.Unmarshal(f.bytes)
		case 3:
			m.UsernameProofMessage = &Message{}
			err = m.UsernameProofMessage.Unmarshal(f.bytes)
		case 4:
			m.DeletedUsernameProofMessage = &Message{}
			err = m.DeletedUsernameProofMessage.Unmarshal(f.bytes)
		default:
			m.unknown = append(m.unknown, f.raw...)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MergeUserNameProofBody) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if m.UsernameProof != nil {
		if b, err = appendMessage(b, 1, m.UsernameProof); err != nil {
			return nil, err
		}
	}
	if m.DeletedUsernameProof != nil {
		if b, err = appendMessage(b, 2, m.DeletedUsernameProof); err != nil {
			return nil, err
		}
	}
	if m.UsernameProofMessage != nil {
		if b, err = appendMessage(b, 3, m.UsernameProofMessage); err != nil {
			return nil, err
		}
	}
	if m.DeletedUsernameProofMessage != nil {
		if b, err = appendMessage(b, 4, m.DeletedUsernameProofMessage); err != nil {
			return nil, err
		}
	}
	return append(b, m.unknown...), nil
}

func (m *MergeOnChainEventBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*m = MergeOnChainEventBody{}
	for _, f := range fields {
		if f.num == 1 && f.isBytes() {
			m.OnChainEvent = &OnChainEvent{}
			if err := m.OnChainEvent.Unmarshal(f.bytes); err != nil {
				return err
			}
			continue
		}
		m.unknown = append(m.unknown, f.raw...)
	}
	return nil
}

func (m *MergeOnChainEventBody) Marshal() ([]byte, error) {
	var b []byte
	if m.OnChainEvent != nil {
		var err error
		if b, err = appendMessage(b, 1, m.OnChainEvent); err != nil {
			return nil, err
		}
	}
	return append(b, m.unknown...), nil
}

func (o *OnChainEvent) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*o = OnChainEvent{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isVarint():
			o.Type = int32(f.varint)
		case f.num == 2 && f.isVarint():
			o.ChainId = uint32(f.varint)
		case f.num == 3 && f.isVarint():
			o.BlockNumber = uint32(f.varint)
		case f.num == 4 && f.isBytes():
			o.BlockHash = f.copyBytes()
		case f.num == 5 && f.isVarint():
			o.BlockTimestamp = f.varint
		case f.num == 8 && f.isBytes():
			o.TxHash = f.copyBytes()
		case f.num == 7 && f.isVarint():
			o.LogIndex = uint32(f.varint)
		case f.num == 8 && f.isVarint():
			o.Fid = f.varint
		default:
			o.unknown = append(o.unknown, f.raw...)
		}
	}
	return nil
}

func (o *OnChainEvent) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(o.Type))
	b = appendVarint(b, 2, uint64(o.ChainId))
	b = appendVarint(b, 3, uint64(o.BlockNumber))
	b = appendBytes(b, 4, o.BlockHash)
	b = appendVarint(b, 5, o.BlockTimestamp)
	b = appendBytes(b, 6, o.TxHash)
	b = appendVarint(b, 7, uint64(o.LogIndex))
	b = appendVarint(b, 8, o.Fid)
	return append(b, o.unknown...), nil
}

// EventCacheKey identifies the effect of an event independent of its id,
// so the same merge seen twice maps to the same key.
func EventCacheKey(e *HubEvent) string {
	if e == nil {
		return ""
	}
	switch body := e.Body.(type) {
	case *MergeMessageBody:
		parts := []string{"hub:evt:merge", hashHex(body.Message)}
		for _, d := range body.DeletedMessages {
			parts = append(parts, hashHex(d))
		}
		return strings.Join(parts, ":")
	case *RevokeMessageBody:
		return "hub:evt:revoke:" + hashHex(body.Message)
	case *PruneMessageBody:
		return "hub:evt:prune:" + hashHex(body.Message)
	case *MergeUserNameProofBody:
		key := "hub:evt:username:"
		if body.UsernameProof != nil {
			key += hex.EncodeToString(body.UsernameProof.Name) + ":" + strconv.FormatUint(body.UsernameProof.Fid, 10)
		}
		if body.DeletedUsernameProof != nil {
			key += ":" + hex.EncodeToString(body.DeletedUsernameProof.Name) + ":" + strconv.FormatUint(body.DeletedUsernameProof.Fid, 10)
		}
		return key
	case *MergeOnChainEventBody:
		if body.OnChainEvent == nil {
			return "hub:evt:onchain"
		}
		return "hub:evt:onchain:" + hex.EncodeToString(body.OnChainEvent.TxHash) + ":" +
			strconv.FormatUint(uint64(body.OnChainEvent.LogIndex), 10)
	default:
		return "hub:evt:" + strconv.FormatUint(e.Id, 10)
	}
}

func hashHex(m *Message) string {
	if m == nil {
		return ""
	}
	return hex.EncodeToString(m.Hash)
}
