package hubpb

type SubscribeRequest struct {
	EventTypes  []HubEventType
	FromId      *uint64
	TotalShards *uint64
	ShardIndex  *uint64
}

func (r *SubscribeRequest) Marshal() ([]byte, error) {
	types := make([]uint64, 0, len(r.EventTypes))
	for _, t := range r.EventTypes {
		types = append(types, uint64(t))
	}
	b := appendPacked(nil, 1, types)
	b = appendOptionalVarint(b, 2, r.FromId)
	b = appendOptionalVarint(b, 3, r.TotalShards)
	b = appendOptionalVarint(b, 4, r.ShardIndex)
	return b, nil
}

func (r *SubscribeRequest) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*r = SubscribeRequest{}
	for _, f := range fields {
		switch {
		case f.num == 1:
			vs, err := f.uint64s()
			if err != nil {
				return err
			}
			for _, v := range vs {
				r.EventTypes = append(r.EventTypes, HubEventType(v))
			}
		case f.num == 2 && f.isVarint():
			r.FromId = u64ptr(f.varint)
		case f.num == 3 && f.isVarint():
			r.TotalShards = u64ptr(f.varint)
		case f.num == 4 && f.isVarint():
			r.ShardIndex = u64ptr(f.varint)
		}
	}
	return nil
}

// FidRequest pages through one fid's messages of a single kind.
type FidRequest struct {
	Fid       uint64
	PageSize  *uint32
	PageToken []byte
	Reverse   *bool
}

func (r *FidRequest) Marshal() ([]byte, error) {
	b := appendVarint(nil, 1, r.Fid)
	b = appendPageOptions(b, 2, r.PageSize, r.PageToken, r.Reverse)
	return b, nil
}

func (r *FidRequest) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*r = FidRequest{}
	for _, f := range fields {
		if f.num == 1 && f.isVarint() {
			r.Fid = f.varint
			continue
		}
		readPageOption(f, 2, &r.PageSize, &r.PageToken, &r.Reverse)
	}
	return nil
}

type FidsRequest struct {
	PageSize  *uint32
	PageToken []byte
	Reverse   *bool
}

func (r *FidsRequest) Marshal() ([]byte, error) {
	return appendPageOptions(nil, 1, r.PageSize, r.PageToken, r.Reverse), nil
}

func (r *FidsRequest) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*r = FidsRequest{}
	for _, f := range fields {
		readPageOption(f, 1, &r.PageSize, &r.PageToken, &r.Reverse)
	}
	return nil
}

// page_size, page_token and reverse are laid out consecutively starting at first.
func appendPageOptions(b []byte, first int32, size *uint32, token []byte, reverse *bool) []byte {
	if size != nil {
		b = appendOptionalVarint(b, num(first), u64ptr(uint64(*size)))
	}
	b = appendBytes(b, num(first+1), token)
	if reverse != nil {
		v := uint64(0)
		if *reverse {
			v = 1
		}
		b = appendOptionalVarint(b, num(first+2), &v)
	}
	return b
}

func readPageOption(f field, first int32, size **uint32, token *[]byte, reverse **bool) {
	switch {
	case f.num == num(first) && f.isVarint():
		v := uint32(f.varint)
		*size = &v
	case f.num == num(first+1) && f.isBytes():
		*token = f.copyBytes()
	case f.num == num(first+2) && f.isVarint():
		v := f.varint != 0
		*reverse = &v
	}
}

type FidsResponse struct {
	Fids          []uint64
	NextPageToken []byte
}

func (r *FidsResponse) Marshal() ([]byte, error) {
	b := appendPacked(nil, 1, r.Fids)
	b = appendBytes(b, 2, r.NextPageToken)
	return b, nil
}

func (r *FidsResponse) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*r = FidsResponse{}
	for _, f := range fields {
		switch {
		case f.num == 1:
			vs, err := f.uint64s()
			if err != nil {
				return err
			}
			r.Fids = append(r.Fids, vs...)
		case f.num == 2 && f.isBytes():
			r.NextPageToken = f.copyBytes()
		}
	}
	return nil
}

type MessagesResponse struct {
	Messages      []*Message
	NextPageToken []byte
}

func (r *MessagesResponse) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	for _, m := range r.Messages {
		if b, err = appendMessage(b, 1, m); err != nil {
			return nil, err
		}
	}
	b = appendBytes(b, 2, r.NextPageToken)
	return b, nil
}

func (r *MessagesResponse) Unmarshal(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	*r = MessagesResponse{}
	for _, f := range fields {
		switch {
		case f.num == 1 && f.isBytes():
			m := &Message{}
			if err := m.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Messages = append(r.Messages, m)
		case f.num == 2 && f.isBytes():
			r.NextPageToken = f.copyBytes()
		}
	}
	return nil
}

func Uint32(v uint32) *uint32 { return &v }
func Uint64(v uint64) *uint64 { return &v }
func Bool(v bool) *bool       { return &v }
