package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DeclareBody announces a queryable. The declaration id travels in Header.Seq.
type DeclareBody struct {
	KeyExpr string
}

// QueryBody is one query. Payload is nil when the query has no body, which is
// distinct from an empty body.
type QueryBody struct {
	Key        string
	Target     uint32
	TimeoutMs  uint32
	Attachment []byte
	Payload    []byte
	// DeclID is set by the router when forwarding, naming the responder's
	// declaration the query was matched against.
	DeclID uint32
}

// ReplyBody is one reply sample. For reply-err frames Payload carries the
// error value.
type ReplyBody struct {
	Key        string
	Payload    []byte
	Attachment []byte
}

const (
	fieldDeclareKeyExpr protowire.Number = 1

	fieldQueryKey        protowire.Number = 1
	fieldQueryTarget     protowire.Number = 2
	fieldQueryTimeout    protowire.Number = 3
	fieldQueryAttachment protowire.Number = 4
	fieldQueryPayload    protowire.Number = 5
	fieldQueryHasPayload protowire.Number = 6
	fieldQueryDeclID     protowire.Number = 7

	fieldReplyKey        protowire.Number = 1
	fieldReplyPayload    protowire.Number = 2
	fieldReplyAttachment protowire.Number = 3
)

func (d *DeclareBody) Marshal() []byte {
	return appendBytesField(nil, fieldDeclareKeyExpr, []byte(d.KeyExpr))
}

func (d *DeclareBody) Unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) {
		if num == fieldDeclareKeyExpr && typ == protowire.BytesType {
			d.KeyExpr = string(v)
		}
	})
}

func (q *QueryBody) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, fieldQueryKey, []byte(q.Key))
	b = appendVarintField(b, fieldQueryTarget, uint64(q.Target))
	b = appendVarintField(b, fieldQueryTimeout, uint64(q.TimeoutMs))
	b = appendBytesField(b, fieldQueryAttachment, q.Attachment)
	if q.Payload != nil {
		b = appendBytesField(b, fieldQueryPayload, q.Payload)
		b = appendVarintField(b, fieldQueryHasPayload, 1)
	}
	b = appendVarintField(b, fieldQueryDeclID, uint64(q.DeclID))
	return b
}

func (q *QueryBody) Unmarshal(b []byte) error {
	var hasPayload bool
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) {
		switch {
		case num == fieldQueryKey && typ == protowire.BytesType:
			q.Key = string(v)
		case num == fieldQueryAttachment && typ == protowire.BytesType:
			q.Attachment = v
		case num == fieldQueryPayload && typ == protowire.BytesType:
			q.Payload = v
		case num == fieldQueryTarget && typ == protowire.VarintType:
			q.Target = uint32(n)
		case num == fieldQueryTimeout && typ == protowire.VarintType:
			q.TimeoutMs = uint32(n)
		case num == fieldQueryHasPayload && typ == protowire.VarintType:
			hasPayload = n != 0
		case num == fieldQueryDeclID && typ == protowire.VarintType:
			q.DeclID = uint32(n)
		}
	})
	if err != nil {
		return err
	}
	if hasPayload && q.Payload == nil {
		q.Payload = []byte{}
	}
	if !hasPayload {
		q.Payload = nil
	}
	return nil
}

func (r *ReplyBody) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, fieldReplyKey, []byte(r.Key))
	b = appendBytesField(b, fieldReplyPayload, r.Payload)
	b = appendBytesField(b, fieldReplyAttachment, r.Attachment)
	return b
}

func (r *ReplyBody) Unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) {
		if typ != protowire.BytesType {
			return
		}
		switch num {
		case fieldReplyKey:
			r.Key = string(v)
		case fieldReplyPayload:
			r.Payload = v
		case fieldReplyAttachment:
			r.Attachment = v
		}
	})
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// walk calls fn with each field; v is set for length-delimited fields and n for
// varints. Other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("protocol: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
			}
			fn(num, typ, v, 0)
			b = b[m:]
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
			}
			fn(num, typ, nil, v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}
