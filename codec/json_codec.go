package codec

import (
	"encoding/json"
	"fmt"

	"uprpc/message"
	"uprpc/status"
	"uprpc/uri"
)

// JSONCodec writes attributes as a JSON object with uris and ids in their
// textual form.
// Pros: human-readable, easy to inspect on the wire.
// Cons: larger than the binary forms, slower to parse.
type JSONCodec struct{}

type jsonAttributes struct {
	Type            message.MessageType   `json:"type,omitempty"`
	ID              string                `json:"id,omitempty"`
	Priority        message.Priority      `json:"priority,omitempty"`
	Source          string                `json:"source,omitempty"`
	Sink            string                `json:"sink,omitempty"`
	TTL             uint32                `json:"ttl,omitempty"`
	PermissionLevel uint32                `json:"permission_level,omitempty"`
	CommStatus      *status.Code          `json:"commstatus,omitempty"`
	ReqID           string                `json:"reqid,omitempty"`
	Token           string                `json:"token,omitempty"`
	TraceParent     string                `json:"traceparent,omitempty"`
	PayloadFormat   message.PayloadFormat `json:"payload_format,omitempty"`
}

func (c *JSONCodec) Encode(attrs *message.Attributes) ([]byte, error) {
	if attrs == nil {
		return nil, ErrNilAttributes
	}
	j := jsonAttributes{
		Type:            attrs.Type,
		Priority:        attrs.Priority,
		TTL:             attrs.TTL,
		PermissionLevel: attrs.PermissionLevel,
		CommStatus:      attrs.CommStatus,
		Token:           attrs.Token,
		TraceParent:     attrs.TraceParent,
		PayloadFormat:   attrs.PayloadFormat,
	}
	if !attrs.ID.IsZero() {
		j.ID = attrs.ID.String()
	}
	if !attrs.ReqID.IsZero() {
		j.ReqID = attrs.ReqID.String()
	}
	if attrs.Source != nil {
		j.Source = attrs.Source.String()
	}
	if attrs.Sink != nil {
		j.Sink = attrs.Sink.String()
	}
	return json.Marshal(&j)
}

func (c *JSONCodec) Decode(data []byte) (*message.Attributes, error) {
	var j jsonAttributes
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("JSONCodec: %w", err)
	}
	attrs := &message.Attributes{
		Type:            j.Type,
		Priority:        j.Priority,
		TTL:             j.TTL,
		PermissionLevel: j.PermissionLevel,
		CommStatus:      j.CommStatus,
		Token:           j.Token,
		TraceParent:     j.TraceParent,
		PayloadFormat:   j.PayloadFormat,
	}
	var err error
	if j.ID != "" {
		if attrs.ID, err = message.ParseUUID(j.ID); err != nil {
			return nil, fmt.Errorf("JSONCodec: id: %w", err)
		}
	}
	if j.ReqID != "" {
		if attrs.ReqID, err = message.ParseUUID(j.ReqID); err != nil {
			return nil, fmt.Errorf("JSONCodec: reqid: %w", err)
		}
	}
	if attrs.Source, err = parseJSONURI(j.Source); err != nil {
		return nil, fmt.Errorf("JSONCodec: source: %w", err)
	}
	if attrs.Sink, err = parseJSONURI(j.Sink); err != nil {
		return nil, fmt.Errorf("JSONCodec: sink: %w", err)
	}
	return attrs, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func parseJSONURI(s string) (*uri.UUri, error) {
	if s == "" {
		return nil, nil
	}
	u, err := uri.Parse(s)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
