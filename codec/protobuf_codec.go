package codec

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"uprpc/message"
	"uprpc/status"
	"uprpc/uri"
)

// Field numbers of the attributes record.
const (
	fieldID              protowire.Number = 1
	fieldType            protowire.Number = 2
	fieldSource          protowire.Number = 3
	fieldSink            protowire.Number = 4
	fieldPriority        protowire.Number = 5
	fieldTTL             protowire.Number = 6
	fieldPermissionLevel protowire.Number = 7
	fieldCommStatus      protowire.Number = 8
	fieldReqID           protowire.Number = 9
	fieldToken           protowire.Number = 10
	fieldTraceParent     protowire.Number = 11
	fieldPayloadFormat   protowire.Number = 12
)

// Field numbers of the nested uuid and uri records.
const (
	fieldUUIDMsb protowire.Number = 1
	fieldUUIDLsb protowire.Number = 2

	fieldURIAuthority protowire.Number = 1
	fieldURIEntity    protowire.Number = 2
	fieldURIVersion   protowire.Number = 3
	fieldURIResource  protowire.Number = 4
)

var ErrInvalidUTF8 = errors.New("codec: string field is not valid utf-8")

// ProtobufCodec writes attributes in protobuf wire format, field-compatible with
// the uProtocol UAttributes message. Zero values are omitted as in proto3.
type ProtobufCodec struct{}

func (c *ProtobufCodec) Encode(attrs *message.Attributes) ([]byte, error) {
	if attrs == nil {
		return nil, ErrNilAttributes
	}
	var b []byte
	if !attrs.ID.IsZero() {
		b = appendUUID(b, fieldID, attrs.ID)
	}
	b = appendEnum(b, fieldType, int32(attrs.Type))
	if attrs.Source != nil {
		var err error
		if b, err = appendURI(b, fieldSource, attrs.Source); err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
	}
	if attrs.Sink != nil {
		var err error
		if b, err = appendURI(b, fieldSink, attrs.Sink); err != nil {
			return nil, fmt.Errorf("sink: %w", err)
		}
	}
	b = appendEnum(b, fieldPriority, int32(attrs.Priority))
	if attrs.TTL != 0 {
		b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(attrs.TTL))
	}
	if attrs.PermissionLevel != 0 {
		b = protowire.AppendTag(b, fieldPermissionLevel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(attrs.PermissionLevel))
	}
	if attrs.CommStatus != nil {
		// explicit presence: OK is written too
		b = protowire.AppendTag(b, fieldCommStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*attrs.CommStatus)))
	}
	if !attrs.ReqID.IsZero() {
		b = appendUUID(b, fieldReqID, attrs.ReqID)
	}
	var err error
	if b, err = appendString(b, fieldToken, attrs.Token); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	if b, err = appendString(b, fieldTraceParent, attrs.TraceParent); err != nil {
		return nil, fmt.Errorf("traceparent: %w", err)
	}
	b = appendEnum(b, fieldPayloadFormat, int32(attrs.PayloadFormat))
	return b, nil
}

func (c *ProtobufCodec) Decode(data []byte) (*message.Attributes, error) {
	attrs := &message.Attributes{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldID && typ == protowire.BytesType:
			return consumeUUID(b, &attrs.ID)
		case num == fieldReqID && typ == protowire.BytesType:
			return consumeUUID(b, &attrs.ReqID)
		case num == fieldSource && typ == protowire.BytesType:
			attrs.Source = &uri.UUri{}
			return consumeURI(b, attrs.Source)
		case num == fieldSink && typ == protowire.BytesType:
			attrs.Sink = &uri.UUri{}
			return consumeURI(b, attrs.Sink)
		case num == fieldToken && typ == protowire.BytesType:
			return consumeString(b, &attrs.Token)
		case num == fieldTraceParent && typ == protowire.BytesType:
			return consumeString(b, &attrs.TraceParent)
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case fieldType:
				attrs.Type = message.MessageType(int32(v))
			case fieldPriority:
				attrs.Priority = message.Priority(int32(v))
			case fieldTTL:
				attrs.TTL = uint32(v)
			case fieldPermissionLevel:
				attrs.PermissionLevel = uint32(v)
			case fieldCommStatus:
				code := status.Code(int32(v))
				attrs.CommStatus = &code
			case fieldPayloadFormat:
				attrs.PayloadFormat = message.PayloadFormat(int32(v))
			}
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (c *ProtobufCodec) Type() CodecType {
	return CodecTypeProtobuf
}

// consumeFields walks a protobuf record and hands each field body to fn, which
// returns how many bytes it consumed.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("codec: %w", protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("codec: field %d: %w", num, err)
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func appendEnum(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendString(b []byte, num protowire.Number, s string) ([]byte, error) {
	if s == "" {
		return b, nil
	}
	if !utf8.ValidString(s) {
		return nil, ErrInvalidUTF8
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s), nil
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if !utf8.Valid(v) {
		return 0, ErrInvalidUTF8
	}
	*dst = string(v)
	return n, nil
}

func appendUUID(b []byte, num protowire.Number, id message.UUID) []byte {
	msb, lsb := id.Parts()
	var inner []byte
	inner = protowire.AppendTag(inner, fieldUUIDMsb, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, msb)
	inner = protowire.AppendTag(inner, fieldUUIDLsb, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, lsb)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func consumeUUID(b []byte, dst *message.UUID) (int, error) {
	inner, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	var msb, lsb uint64
	err := consumeFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.Fixed64Type || (num != fieldUUIDMsb && num != fieldUUIDLsb) {
			return skipField(num, typ, b)
		}
		v, m := protowire.ConsumeFixed64(b)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		if num == fieldUUIDMsb {
			msb = v
		} else {
			lsb = v
		}
		return m, nil
	})
	if err != nil {
		return 0, err
	}
	*dst = message.UUIDFromParts(msb, lsb)
	return n, nil
}

func appendURI(b []byte, num protowire.Number, u *uri.UUri) ([]byte, error) {
	var inner []byte
	var err error
	if inner, err = appendString(inner, fieldURIAuthority, u.AuthorityName); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		num protowire.Number
		v   uint32
	}{
		{fieldURIEntity, u.UeID},
		{fieldURIVersion, u.UeVersionMajor},
		{fieldURIResource, u.ResourceID},
	} {
		if f.v == 0 {
			continue
		}
		inner = protowire.AppendTag(inner, f.num, protowire.VarintType)
		inner = protowire.AppendVarint(inner, uint64(f.v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

func consumeURI(b []byte, dst *uri.UUri) (int, error) {
	inner, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	err := consumeFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldURIAuthority && typ == protowire.BytesType {
			return consumeString(b, &dst.AuthorityName)
		}
		if typ != protowire.VarintType {
			return skipField(num, typ, b)
		}
		v, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		switch num {
		case fieldURIEntity:
			dst.UeID = uint32(v)
		case fieldURIVersion:
			dst.UeVersionMajor = uint32(v)
		case fieldURIResource:
			dst.ResourceID = uint32(v)
		}
		return m, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
