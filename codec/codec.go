// Package codec serializes message attributes into the opaque attachment that
// travels alongside a query or reply body.
//
// Attachment layout:
//
//	0        1        2
//	┌────────┬────────┬──────────────────────────┐
//	│version │ codec  │ encoded attributes ...   │
//	│  0x01  │  type  │                          │
//	└────────┴────────┴──────────────────────────┘
//
// The codec type byte makes an attachment self-describing: a peer can decode a
// reply no matter which codec the responder chose.
package codec

import (
	"errors"
	"fmt"

	"uprpc/message"
)

type CodecType byte

const (
	CodecTypeJSON     CodecType = 0
	CodecTypeBinary   CodecType = 1
	CodecTypeProtobuf CodecType = 2
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeProtobuf:
		return "protobuf"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// ParseCodecType maps a codec name to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "protobuf", "":
		return CodecTypeProtobuf, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

var (
	ErrUnknownCodec       = errors.New("codec: unknown codec type")
	ErrNilAttributes      = errors.New("codec: nil attributes")
	ErrEmptyAttachment    = errors.New("codec: empty attachment")
	ErrUnsupportedVersion = errors.New("codec: unsupported attachment version")
	ErrTruncated          = errors.New("codec: truncated data")
)

// AttachmentVersion is the first byte of every attachment.
const AttachmentVersion byte = 0x01

// Codec converts attributes to and from bytes.
type Codec interface {
	Encode(attrs *message.Attributes) ([]byte, error)
	Decode(data []byte) (*message.Attributes, error)
	Type() CodecType
}

// GetCodec returns the codec for the given type.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeBinary:
		return &BinaryCodec{}, nil
	case CodecTypeProtobuf:
		return &ProtobufCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, byte(codecType))
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return &ProtobufCodec{}
}

// EncodeAttachment encodes attrs with c and prepends the attachment header.
func EncodeAttachment(c Codec, attrs *message.Attributes) ([]byte, error) {
	if attrs == nil {
		return nil, ErrNilAttributes
	}
	body, err := c.Encode(attrs)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2, 2+len(body))
	buf[0] = AttachmentVersion
	buf[1] = byte(c.Type())
	return append(buf, body...), nil
}

// DecodeAttachment reads the attachment header and decodes the attributes with
// the codec it names.
func DecodeAttachment(data []byte) (*message.Attributes, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAttachment
	}
	if data[0] != AttachmentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	c, err := GetCodec(CodecType(data[1]))
	if err != nil {
		return nil, err
	}
	return c.Decode(data[2:])
}
