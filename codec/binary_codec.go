package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"uprpc/message"
	"uprpc/status"
	"uprpc/uri"
)

// Presence bits of the optional fields.
const (
	hasSource byte = 1 << iota
	hasSink
	hasCommStatus
)

// BinaryCodec writes attributes as a fixed-order, length-prefixed record.
//
//	type u8 | priority u8 | format u8 | presence u8 | id 16 | reqid 16 | ttl u32 | permission u32
//	[commstatus u8] [source uri] [sink uri] | token u16+n | traceparent u16+n
//
// A uri is authority u16+n | entity u32 | version u8 | resource u16.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(attrs *message.Attributes) ([]byte, error) {
	if attrs == nil {
		return nil, ErrNilAttributes
	}
	for name, v := range map[string]int32{
		"type":           int32(attrs.Type),
		"priority":       int32(attrs.Priority),
		"payload format": int32(attrs.PayloadFormat),
	} {
		if v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("BinaryCodec: %s %d does not fit in a byte", name, v)
		}
	}

	var presence byte
	if attrs.Source != nil {
		presence |= hasSource
	}
	if attrs.Sink != nil {
		presence |= hasSink
	}
	if attrs.CommStatus != nil {
		presence |= hasCommStatus
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, byte(attrs.Type), byte(attrs.Priority), byte(attrs.PayloadFormat), presence)
	buf = append(buf, attrs.ID.UUID[:]...)
	buf = append(buf, attrs.ReqID.UUID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, attrs.TTL)
	buf = binary.BigEndian.AppendUint32(buf, attrs.PermissionLevel)
	if attrs.CommStatus != nil {
		code := *attrs.CommStatus
		if code < 0 || code > math.MaxUint8 {
			return nil, fmt.Errorf("BinaryCodec: commstatus %d does not fit in a byte", code)
		}
		buf = append(buf, byte(code))
	}

	var err error
	for _, u := range []*uri.UUri{attrs.Source, attrs.Sink} {
		if u == nil {
			continue
		}
		if buf, err = appendBinaryURI(buf, u); err != nil {
			return nil, err
		}
	}
	if buf, err = appendBinaryString(buf, attrs.Token); err != nil {
		return nil, fmt.Errorf("BinaryCodec: token: %w", err)
	}
	if buf, err = appendBinaryString(buf, attrs.TraceParent); err != nil {
		return nil, fmt.Errorf("BinaryCodec: traceparent: %w", err)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (*message.Attributes, error) {
	r := &binaryReader{data: data}
	attrs := &message.Attributes{
		Type:          message.MessageType(r.readByte()),
		Priority:      message.Priority(r.readByte()),
		PayloadFormat: message.PayloadFormat(r.readByte()),
	}
	presence := r.readByte()
	copy(attrs.ID.UUID[:], r.take(16))
	copy(attrs.ReqID.UUID[:], r.take(16))
	attrs.TTL = r.readUint32()
	attrs.PermissionLevel = r.readUint32()
	if presence&hasCommStatus != 0 {
		code := status.Code(r.readByte())
		attrs.CommStatus = &code
	}
	if presence&hasSource != 0 {
		attrs.Source = r.readURI()
	}
	if presence&hasSink != 0 {
		attrs.Sink = r.readURI()
	}
	attrs.Token = r.readString()
	attrs.TraceParent = r.readString()
	if r.err != nil {
		return nil, fmt.Errorf("BinaryCodec: %w", r.err)
	}
	return attrs, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendBinaryString(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("length %d exceeds %d", len(s), math.MaxUint16)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func appendBinaryURI(buf []byte, u *uri.UUri) ([]byte, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("BinaryCodec: %w", err)
	}
	buf, err := appendBinaryString(buf, u.AuthorityName)
	if err != nil {
		return nil, fmt.Errorf("BinaryCodec: authority: %w", err)
	}
	buf = binary.BigEndian.AppendUint32(buf, u.UeID)
	buf = append(buf, byte(u.UeVersionMajor))
	return binary.BigEndian.AppendUint16(buf, uint16(u.ResourceID)), nil
}

// binaryReader reads sequential fields and remembers the first short read, so
// Decode checks for truncation once at the end.
type binaryReader struct {
	data []byte
	err  error
}

func (r *binaryReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *binaryReader) readByte() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *binaryReader) readUint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *binaryReader) readUint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *binaryReader) readString() string {
	n := r.readUint16()
	return string(r.take(int(n)))
}

func (r *binaryReader) readURI() *uri.UUri {
	return &uri.UUri{
		AuthorityName:  r.readString(),
		UeID:           r.readUint32(),
		UeVersionMajor: uint32(r.readByte()),
		ResourceID:     uint32(r.readUint16()),
	}
}
