// Package message defines the metadata record and payload exchanged on every RPC.
//
// Attributes is the "envelope" of a request or response. It never travels in the
// query body: codecs serialize it into the attachment that rides alongside the
// payload, so the body stays exactly the bytes the caller supplied.
package message

import (
	"errors"
	"fmt"

	"uprpc/status"
	"uprpc/uri"
)

// MessageType distinguishes the role of a message.
type MessageType int32

const (
	TypeUnspecified  MessageType = 0
	TypePublish      MessageType = 1
	TypeRequest      MessageType = 2
	TypeResponse     MessageType = 3
	TypeNotification MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypePublish:
		return "PUBLISH"
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeNotification:
		return "NOTIFICATION"
	default:
		return "UNSPECIFIED"
	}
}

// Priority is the class of service of a message. PriorityUnspecified is an
// explicit "no preference" and is never rewritten to a numeric class.
type Priority int32

const (
	PriorityUnspecified Priority = 0
	PriorityCS0         Priority = 1
	PriorityCS1         Priority = 2
	PriorityCS2         Priority = 3
	PriorityCS3         Priority = 4
	PriorityCS4         Priority = 5
	PriorityCS5         Priority = 6
	PriorityCS6         Priority = 7
)

func (p Priority) String() string {
	if p >= PriorityCS0 && p <= PriorityCS6 {
		return fmt.Sprintf("CS%d", int32(p-PriorityCS0))
	}
	return "UNSPECIFIED"
}

// ParsePriority maps a priority name (as printed by String) back to its value.
func ParsePriority(name string) (Priority, error) {
	if name == "" || name == "UNSPECIFIED" {
		return PriorityUnspecified, nil
	}
	for p := PriorityCS0; p <= PriorityCS6; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return PriorityUnspecified, fmt.Errorf("unknown priority %q", name)
}

// PayloadFormat hints how payload bytes are encoded.
type PayloadFormat int32

const (
	FormatUnspecified          PayloadFormat = 0
	FormatProtobufWrappedInAny PayloadFormat = 1
	FormatProtobuf             PayloadFormat = 2
	FormatJSON                 PayloadFormat = 3
	FormatSomeIP               PayloadFormat = 4
	FormatSomeIPTLV            PayloadFormat = 5
	FormatRaw                  PayloadFormat = 6
	FormatText                 PayloadFormat = 7
	FormatShm                  PayloadFormat = 8
)

var formatNames = map[PayloadFormat]string{
	FormatProtobufWrappedInAny: "PROTOBUF_WRAPPED_IN_ANY",
	FormatProtobuf:             "PROTOBUF",
	FormatJSON:                 "JSON",
	FormatSomeIP:               "SOMEIP",
	FormatSomeIPTLV:            "SOMEIP_TLV",
	FormatRaw:                  "RAW",
	FormatText:                 "TEXT",
	FormatShm:                  "SHM",
}

func (f PayloadFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "UNSPECIFIED"
}

// ParsePayloadFormat maps a format name (as printed by String) back to its value.
func ParsePayloadFormat(name string) (PayloadFormat, error) {
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	if name == "UNSPECIFIED" || name == "" {
		return FormatUnspecified, nil
	}
	return FormatUnspecified, fmt.Errorf("unknown payload format %q", name)
}

// Payload is a body together with its format tag.
type Payload struct {
	Data   []byte
	Format PayloadFormat
}

// NewPayload wraps data with the given format.
func NewPayload(data []byte, format PayloadFormat) *Payload {
	return &Payload{Data: data, Format: format}
}

// Attributes carries the metadata of one message.
//
//   - On request:  ID, Source (caller), Sink (method) and TTL are set.
//   - On response: ReqID echoes the request ID, Source is the method and Sink the caller.
type Attributes struct {
	Type            MessageType
	ID              UUID
	Priority        Priority
	Source          *uri.UUri
	Sink            *uri.UUri
	TTL             uint32 // milliseconds, 0 = not set
	PermissionLevel uint32
	CommStatus      *status.Code
	ReqID           UUID
	Token           string
	TraceParent     string
	PayloadFormat   PayloadFormat
}

var (
	ErrMissingID     = errors.New("attributes: missing message id")
	ErrMissingSource = errors.New("attributes: missing source")
	ErrMissingSink   = errors.New("attributes: missing sink")
	ErrMissingReqID  = errors.New("attributes: missing request id")
	ErrWrongType     = errors.New("attributes: wrong message type")
	ErrNotAMethod    = errors.New("attributes: sink is not an rpc method")
)

// ValidateRequest checks the invariants of a REQUEST record.
func (a *Attributes) ValidateRequest() error {
	if a.Type != TypeRequest {
		return fmt.Errorf("%w: %s", ErrWrongType, a.Type)
	}
	if a.ID.IsZero() {
		return ErrMissingID
	}
	if a.Source == nil {
		return ErrMissingSource
	}
	if a.Sink == nil {
		return ErrMissingSink
	}
	if !a.Sink.IsRpcMethod() {
		return fmt.Errorf("%w: %s", ErrNotAMethod, a.Sink)
	}
	return nil
}

// ValidateResponse checks the invariants of a RESPONSE record.
func (a *Attributes) ValidateResponse() error {
	if a.Type != TypeResponse {
		return fmt.Errorf("%w: %s", ErrWrongType, a.Type)
	}
	if a.ID.IsZero() {
		return ErrMissingID
	}
	if a.ReqID.IsZero() {
		return ErrMissingReqID
	}
	if a.Source == nil {
		return ErrMissingSource
	}
	if a.Sink == nil {
		return ErrMissingSink
	}
	return nil
}

// Status returns the communication status of a response, OK when unset.
func (a *Attributes) Status() status.Code {
	if a.CommStatus == nil {
		return status.OK
	}
	return *a.CommStatus
}

// Message couples attributes with an optional payload. It is the unit the
// responder-side handler chain works on.
type Message struct {
	Attributes *Attributes
	Payload    *Payload
}

// Failure returns a message carrying only a non-OK communication status. The
// responder turns it into an error reply.
func Failure(code status.Code, format string, args ...any) *Message {
	return &Message{
		Attributes: &Attributes{CommStatus: &code},
		Payload:    NewPayload([]byte(fmt.Sprintf(format, args...)), FormatText),
	}
}

// Failed reports whether m carries a non-OK status.
func (m *Message) Failed() bool {
	return m != nil && m.Attributes != nil && m.Attributes.Status() != status.OK
}

// FailureStatus returns the status of a failed message, with the payload as
// the message text.
func (m *Message) FailureStatus() status.Status {
	var text string
	if m.Payload != nil {
		text = string(m.Payload.Data)
	}
	return status.New(m.Attributes.Status(), text)
}
