// Package protocol implements the framed binary protocol spoken between a
// remote session and the query router.
//
// A fixed-size 13-byte header is followed by a variable-length body, so the
// receiver reads the header first and then exactly BodyLen bytes.
//
// Frame format:
//
//	0      3  4  5         9         13
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ft│   seq   │ bodyLen │    body ...    │
//	│ upr  │01│  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
//
// Seq is a query id for query and reply frames and a declaration id for
// declare and undeclare frames.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "upr". Rejects peers that are not speaking this protocol.
const (
	MagicNumber byte = 0x75 // 'u'
	MagicByte2  byte = 0x70 // 'p'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 13 // 3 (magic) + 1 (version) + 1 (frameType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt length cannot trigger a
	// huge allocation.
	MaxBodyLen uint32 = 64 << 20
)

// FrameType identifies the frame body.
type FrameType byte

const (
	FrameDeclare    FrameType = 0 // session → router: serve queries on a key expression
	FrameUndeclare  FrameType = 1 // session → router: stop serving a declaration
	FrameQuery      FrameType = 2 // session → router → responder session
	FrameReply      FrameType = 3 // responder → router → querier: one sample
	FrameReplyErr   FrameType = 4 // responder → router → querier: one error value
	FrameReplyFinal FrameType = 5 // no more replies for this query
	FrameHeartbeat  FrameType = 6 // keepalive probe (no body)
)

func (t FrameType) String() string {
	switch t {
	case FrameDeclare:
		return "declare"
	case FrameUndeclare:
		return "undeclare"
	case FrameQuery:
		return "query"
	case FrameReply:
		return "reply"
	case FrameReplyErr:
		return "reply-err"
	case FrameReplyFinal:
		return "reply-final"
	case FrameHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("frame(%d)", byte(t))
}

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnknownFrameType   = errors.New("unsupported frame type")
	ErrFrameTooLarge      = errors.New("frame body too large")
)

// Header is the fixed frame header.
type Header struct {
	Type    FrameType
	Seq     uint32
	BodyLen uint32
}

// Encode writes a complete frame (header + body) to w in a single write and
// sets h.BodyLen from body. Callers sharing w between goroutines must hold a
// write lock.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint32(buf[9:13], h.BodyLen)
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r, validating magic, version, frame
// type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, headerBuf[3])
	}
	frameType := FrameType(headerBuf[4])
	if frameType > FrameHeartbeat {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownFrameType, headerBuf[4])
	}

	seq := binary.BigEndian.Uint32(headerBuf[5:9])
	bodyLen := binary.BigEndian.Uint32(headerBuf[9:13])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{Type: frameType, Seq: seq, BodyLen: bodyLen}, body, nil
}
