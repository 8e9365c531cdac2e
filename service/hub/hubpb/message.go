package hubpb

import (
	"encoding/hex"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"shuttle/tools/errs"
	"shuttle/tools/ids"
)

type MessageType int32

const (
	MessageTypeNone                      MessageType = 0
	MessageTypeCastAdd                   MessageType = 1
	MessageTypeCastRemove                MessageType = 2
	MessageTypeReactionAdd               MessageType = 3
	MessageTypeReactionRemove            MessageType = 4
	MessageTypeLinkAdd                   MessageType = 5
	MessageTypeLinkRemove                MessageType = 6
	MessageTypeVerificationAddEthAddress MessageType = 7
	MessageTypeVerificationRemove        MessageType = 8
	MessageTypeUserDataAdd               MessageType = 11
	MessageTypeUsernameProof             MessageType = 12
)

var messageTypeNames = map[MessageType]string{
	MessageTypeNone:                      "MESSAGE_TYPE_NONE",
	MessageTypeCastAdd:                   "MESSAGE_TYPE_CAST_ADD",
	MessageTypeCastRemove:                "MESSAGE_TYPE_CAST_REMOVE",
	MessageTypeReactionAdd:               "MESSAGE_TYPE_REACTION_ADD",
	MessageTypeReactionRemove:            "MESSAGE_TYPE_REACTION_REMOVE",
	MessageTypeLinkAdd:                   "MESSAGE_TYPE_LINK_ADD",
	MessageTypeLinkRemove:                "MESSAGE_TYPE_LINK_REMOVE",
	MessageTypeVerificationAddEthAddress: "MESSAGE_TYPE_VERIFICATION_ADD_ETH_ADDRESS",
	MessageTypeVerificationRemove:        "MESSAGE_TYPE_VERIFICATION_REMOVE",
	MessageTypeUserDataAdd:               "MESSAGE_TYPE_USER_DATA_ADD",
	MessageTypeUsernameProof:             "MESSAGE_TYPE_USERNAME_PROOF",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "MESSAGE_TYPE_" + strconv.Itoa(int(t))
}

// Family groups message types by the CRDT set they live in.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyCast
	FamilyReaction
	FamilyLink
	FamilyVerification
	FamilyUserData
	FamilyUsernameProof
)

func (t MessageType) Family() Family {
	switch t {
	case MessageTypeCastAdd, MessageTypeCastRemove:
		return FamilyCast
	case MessageTypeReactionAdd, MessageTypeReactionRemove:
		return FamilyReaction
	case MessageTypeLinkAdd, MessageTypeLinkRemove:
		return FamilyLink
	case MessageTypeVerificationAddEthAddress, MessageTypeVerificationRemove:
		return FamilyVerification
	case MessageTypeUserDataAdd:
		return FamilyUserData
	case MessageTypeUsernameProof:
		return FamilyUsernameProof
	default:
		return FamilyUnknown
	}
}

// TwoPhase reports whether the family has an explicit remove counterpart.
func (f Family) TwoPhase() bool {
	switch f {
	case FamilyCast, FamilyReaction, FamilyLink, FamilyVerification:
		return true
	}
	return false
}

func (t MessageType) IsAdd() bool {
	switch t {
	case MessageTypeCastAdd, MessageTypeReactionAdd, MessageTypeLinkAdd, MessageTypeVerificationAddEthAddress:
		return true
	}
	return false
}

func (t MessageType) IsRemove() bool {
	switch t {
	case MessageTypeCastRemove, MessageTypeReactionRemove, MessageTypeLinkRemove, MessageTypeVerificationRemove:
		return true
	}
	return false
}

// Message is the signed envelope the hub stores.
type Message struct {
	Data            *MessageData
	Hash            []byte
	HashScheme      int32
	Signature       []byte
	SignatureScheme int32
	Signer          []byte
	DataBytes       []byte

	unknown []byte
}

func (m *Message) Type() MessageType {
	if m == nil || m.Data == nil {
		return MessageTypeNone
	}
	return m.Data.Type
}

func (m *Message) Fid() uint64 {
	if m == nil || m.Data == nil {
		return 0
	}
	return m.Data.Fid
}

func (m *Message) Timestamp() time.Time {
	if m == nil || m.Data == nil {
		return time.Time{}
	}
	return ids.FromHubTime(m.Data.Timestamp)
}

func (m *Message) HashHex() string {
	if m == nil {
		return ""
	}
	return "0x" + hex.EncodeToString(m.Hash)
}

func (m *Message) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*m = Message{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			m.Data = &MessageData{}
			if err := m.Data.Unmarshal(f.bytes); err != nil {
				return err
			}
		case f.num == 2 && f.isBytes():
			m.Hash = f.copyBytes()
		case f.num == 3 && f.isVarint():
			m.HashScheme = int32(f.varint)
		case f.num == 4 && f.isBytes():
			m.Signature = f.copyBytes()
		case f.num == 5 && f.isVarint():
			m.SignatureScheme = int32(f.varint)
		case f.num == 6 && f.isBytes():
			m.Signer = f.copyBytes()
		case f.num == 7 && f.isBytes():
			m.DataBytes = f.copyBytes()
		default:
			m.unknown = append(m.unknown, f.raw...)
		}
	}
	// messages signed over data_bytes carry no decoded data
	if m.Data == nil && len(m.DataBytes) > 0 {
		m.Data = &MessageData{}
		if err := m.Data.Unmarshal(m.DataBytes); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	// keep the signed bytes canonical: when data_bytes is set, data was derived from it
	if m.Data != nil && len(m.DataBytes) == 0 {
		if b, err = appendMessage(b, 1, m.Data); err != nil {
			return nil, err
		}
	}
	b = appendBytes(b, 2, m.Hash)
	b = appendVarint(b, 3, uint64(m.HashScheme))
	b = appendBytes(b, 4, m.Signature)
	b = appendVarint(b, 5, uint64(m.SignatureScheme))
	b = appendBytes(b, 6, m.Signer)
	b = appendBytes(b, 7, m.DataBytes)
	return append(b, m.unknown...), nil
}

// MessageData is the signed payload of a Message.
type MessageData struct {
	Type      MessageType
	Fid       uint64
	Timestamp uint32
	Network   int32
	Body      Body

	unknown []byte
}

// Body is one of the message body variants.
type Body interface {
	marshaler
	bodyField() protowire.Number
}

func (d *MessageData) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*d = MessageData{}
	for _, f := range fields {
		var body interface {
			Body
			unmarshaler
		}
		switch {
		case f.num == 1 && f.isVarint():
			d.Type = MessageType(f.varint)
			continue
		case f.num == 2 && f.isVarint():
			d.Fid = f.varint
			continue
		case f.num == 3 && f.isVarint():
			d.Timestamp = uint32(f.varint)
			continue
		case f.num == 4 && f.isVarint():
			d.Network = int32(f.varint)
			continue
		case f.num == 5 && f.isBytes():
			body = &CastAddBody{}
		case f.num == 6 && f.isBytes():
			body = &CastRemoveBody{}
		case f.num == 7 && f.isBytes():
			body = &ReactionBody{}
		case f.num == 9 && f.isBytes():
			body = &VerificationAddAddressBody{}
		case f.num == 10 && f.isBytes():
			body = &VerificationRemoveBody{}
		case f.num == 12 && f.isBytes():
			body = &UserDataBody{}
		case f.num == 14 && f.isBytes():
			body = &LinkBody{}
		case f.num == 15 && f.isBytes():
			body = &UserNameProof{}
		default:
			d.unknown = append(d.unknown, f.raw...)
			continue
		}
		if err := body.Unmarshal(f.bytes); err != nil {
			return errs.WrapMsg(err, "message body", "field", f.num)
		}
		d.Body = body
	}
	return nil
}

func (d *MessageData) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(d.Type))
	b = appendVarint(b, 2, d.Fid)
	b = appendVarint(b, 3, uint64(d.Timestamp))
	b = appendVarint(b, 4, uint64(d.Network))
	if d.Body != nil {
		var err error
		if b, err = appendMessage(b, d.Body.bodyField(), d.Body); err != nil {
			return nil, err
		}
	}
	return append(b, d.unknown...), nil
}

type CastId struct {
	Fid  uint64
	Hash []byte

	unknown []byte
}

func (c *CastId) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*c = CastId{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isVarint():
			c.Fid = f.varint
		case f.num == 2 && f.isBytes():
			c.Hash = f.copyBytes()
		default:
			c.unknown = append(c.unknown, f.raw...)
		}
	}
	return nil
}

func (c *CastId) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, c.Fid)
	b = appendBytes(b, 2, c.Hash)
	return append(b, c.unknown...), nil
}

type Embed struct {
	Url    string
	CastId *CastId

	unknown []byte
}

func (e *Embed) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*e = Embed{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			e.Url = string(f.bytes)
		case f.num == 2 && f.isBytes():
			e.CastId = &CastId{}
			if err := e.CastId.Unmarshal(f.bytes); err != nil {
				return err
			}
		default:
			e.unknown = append(e.unknown, f.raw...)
		}
	}
	return nil
}

func (e *Embed) Marshal() ([]byte, error) {
	b := appendString(nil, 1, e.Url)
	if e.CastId != nil {
		var err error
		if b, err = appendMessage(b, 2, e.CastId); err != nil {
			return nil, err
		}
	}
	return append(b, e.unknown...), nil
}

type CastAddBody struct {
	EmbedsDeprecated  []string
	Mentions          []uint64
	ParentCastId      *CastId
	ParentUrl         string
	Text              string
	MentionsPositions []uint64
	Embeds            []*Embed
	Type              int32

	unknown []byte
}

func (*CastAddBody) bodyField() protowire.Number { return 5 }

func (c *CastAddBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*c = CastAddBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			c.EmbedsDeprecated = append(c.EmbedsDeprecated, string(f.bytes))
		case f.num == 2:
			vs, err := f.uint64s()
			if err != nil {
				return err
			}
			c.Mentions = append(c.Mentions, vs...)
		case f.num == 3 && f.isBytes():
			c.ParentCastId = &CastId{}
			if err := c.ParentCastId.Unmarshal(f.bytes); err != nil {
				return err
			}
		case f.num == 4 && f.isBytes():
			c.Text = string(f.bytes)
		case f.num == 5:
			vs, err := f.uint64s()
			if err != nil {
				return err
			}
			c.MentionsPositions = append(c.MentionsPositions, vs...)
		case f.num == 6 && f.isBytes():
			e := &Embed{}
			if err := e.Unmarshal(f.bytes); err != nil {
				return err
			}
			c.Embeds = append(c.Embeds, e)
		case f.num == 7 && f.isBytes():
			c.ParentUrl = string(f.bytes)
		case f.num == 8 && f.isVarint():
			c.Type = int32(f.varint)
		default:
			c.unknown = append(c.unknown, f.raw...)
		}
	}
	return nil
}

func (c *CastAddBody) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	for _, s := range c.EmbedsDeprecated {
		b = appendString(b, 1, s)
	}
	b = appendPacked(b, 2, c.Mentions)
	if c.ParentCastId != nil {
		if b, err = appendMessage(b, 3, c.ParentCastId); err != nil {
			return nil, err
		}
	}
	b = appendString(b, 4, c.Text)
	b = appendPacked(b, 5, c.MentionsPositions)
	for _, e := range c.Embeds {
		if b, err = appendMessage(b, 6, e); err != nil {
			return nil, err
		}
	}
	b = appendString(b, 7, c.ParentUrl)
	b = appendVarint(b, 8, uint64(c.Type))
	return append(b, c.unknown...), nil
}

type CastRemoveBody struct {
	TargetHash []byte

	unknown []byte
}

func (*CastRemoveBody) bodyField() protowire.Number { return 6 }

func (c *CastRemoveBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*c = CastRemoveBody{}
	for _, f := range fields {
		if f.num == 1 && f.isBytes() {
			c.TargetHash = f.copyBytes()
			continue
		}
		c.unknown = append(c.unknown, f.raw...)
	}
	return nil
}

func (c *CastRemoveBody) Marshal() ([]byte, error) {
	return append(appendBytes(nil, 1, c.TargetHash), c.unknown...), nil
}

type ReactionType int32

const (
	ReactionTypeLike   ReactionType = 1
	ReactionTypeRecast ReactionType = 2
)

type ReactionBody struct {
	Type         ReactionType
	TargetCastId *CastId
	TargetUrl    string

	unknown []byte
}

func (*ReactionBody) bodyField() protowire.Number { return 7 }

func (r *ReactionBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*r = ReactionBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isVarint():
			r.Type = ReactionType(f.varint)
		case f.num == 2 && f.isBytes():
			r.TargetCastId = &CastId{}
			if err := r.TargetCastId.Unmarshal(f.bytes); err != nil {
				return err
			}
		case f.num == 3 && f.isBytes():
			r.TargetUrl = string(f.bytes)
		default:
			r.unknown = append(r.unknown, f.raw...)
		}
	}
	return nil
}

func (r *ReactionBody) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	b = appendVarint(b, 1, uint64(r.Type))
	if r.TargetCastId != nil {
		if b, err = appendMessage(b, 2, r.TargetCastId); err != nil {
			return nil, err
		}
	}
	b = appendString(b, 3, r.TargetUrl)
	return append(b, r.unknown...), nil
}

type VerificationAddAddressBody struct {
	Address          []byte
	ClaimSignature   []byte
	BlockHash        []byte
	VerificationType uint32
	ChainId          uint32
	Protocol         int32

	unknown []byte
}

func (*VerificationAddAddressBody) bodyField() protowire.Number { return 9 }

func (v *VerificationAddAddressBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*v = VerificationAddAddressBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			v.Address = f.copyBytes()
		case f.num == 2 && f.isBytes():
			v.ClaimSignature = f.copyBytes()
		case f.num == 3 && f.isBytes():
			v.BlockHash = f.copyBytes()
		case f.num == 4 && f.isVarint():
			v.VerificationType = uint32(f.varint)
		case f.num == 5 && f.isVarint():
			v.ChainId = uint32(f.varint)
		case f.num == 7 && f.isVarint():
			v.Protocol = int32(f.varint)
		default:
			v.unknown = append(v.unknown, f.raw...)
		}
	}
	return nil
}

func (v *VerificationAddAddressBody) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, v.Address)
	b = appendBytes(b, 2, v.ClaimSignature)
	b = appendBytes(b, 3, v.BlockHash)
	b = appendVarint(b, 4, uint64(v.VerificationType))
	b = appendVarint(b, 5, uint64(v.ChainId))
	b = appendVarint(b, 7, uint64(v.Protocol))
	return append(b, v.unknown...), nil
}

type VerificationRemoveBody struct {
	Address  []byte
	Protocol int32

	unknown []byte
}

func (*VerificationRemoveBody) bodyField() protowire.Number { return 10 }

func (v *VerificationRemoveBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*v = VerificationRemoveBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			v.Address = f.copyBytes()
		case f.num == 2 && f.isVarint():
			v.Protocol = int32(f.varint)
		default:
			v.unknown = append(v.unknown, f.raw...)
		}
	}
	return nil
}

func (v *VerificationRemoveBody) Marshal() ([]byte, error) {
	b := appendBytes(nil, 1, v.Address)
	b = appendVarint(b, 2, uint64(v.Protocol))
	return append(b, v.unknown...), nil
}

type UserDataType int32

const (
	UserDataTypePfp      UserDataType = 1
	UserDataTypeDisplay  UserDataType = 2
	UserDataTypeBio      UserDataType = 3
	UserDataTypeUrl      UserDataType = 5
	UserDataTypeUsername UserDataType = 6
)

type UserDataBody struct {
	Type  UserDataType
	Value string

	unknown []byte
}

func (*UserDataBody) bodyField() protowire.Number { return 12 }

func (u *UserDataBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*u = UserDataBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isVarint():
			u.Type = UserDataType(f.varint)
		case f.num == 2 && f.isBytes():
			u.Value = string(f.bytes)
		default:
			u.unknown = append(u.unknown, f.raw...)
		}
	}
	return nil
}

func (u *UserDataBody) Marshal() ([]byte, error) {
	b := appendVarint(nil, 1, uint64(u.Type))
	b = appendString(b, 2, u.Value)
	return append(b, u.unknown...), nil
}

type LinkBody struct {
	Type             string
	DisplayTimestamp *uint32
	TargetFid        uint64

	unknown []byte
}

func (*LinkBody) bodyField() protowire.Number { return 14 }

func (l *LinkBody) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*l = LinkBody{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			l.Type = string(f.bytes)
		case f.num == 2 && f.isVarint():
			ts := uint32(f.varint)
			l.DisplayTimestamp = &ts
		case f.num == 3 && f.isVarint():
			l.TargetFid = f.varint
		default:
			l.unknown = append(l.unknown, f.raw...)
		}
	}
	return nil
}

func (l *LinkBody) Marshal() ([]byte, error) {
	b := appendString(nil, 1, l.Type)
	if l.DisplayTimestamp != nil {
		b = appendOptionalVarint(b, 2, u64ptr(uint64(*l.DisplayTimestamp)))
	}
	b = appendVarint(b, 3, l.TargetFid)
	return append(b, l.unknown...), nil
}

type UserNameProof struct {
	Timestamp uint64
	Name      []byte
	Owner     []byte
	Signature []byte
	Fid       uint64
	Type      int32

	unknown []byte
}

func (*UserNameProof) bodyField() protowire.Number { return 15 }

func (p *UserNameProof) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*p = UserNameProof{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isVarint():
			p.Timestamp = f.varint
		case f.num == 2 && f.isBytes():
			p.Name = f.copyBytes()
		case f.num == 3 && f.isBytes():
			p.Owner = f.copyBytes()
		case f.num == 4 && f.isBytes():
			p.Signature = f.copyBytes()
		case f.num == 5 && f.isVarint():
			p.Fid = f.varint
		case f.num == 6 && f.isVarint():
			p.Type = int32(f.varint)
		default:
			p.unknown = append(p.unknown, f.raw...)
		}
	}
	return nil
}

func (p *UserNameProof) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, p.Timestamp)
	b = appendBytes(b, 2, p.Name)
	b = appendBytes(b, 3, p.Owner)
	b = appendBytes(b, 4, p.Signature)
	b = appendVarint(b, 5, p.Fid)
	b = appendVarint(b, 6, uint64(p.Type))
	return append(b, p.unknown...), nil
}
