package codec

import (
	"testing"

	"uprpc/message"
	"uprpc/uri"
)

func benchAttributes() *message.Attributes {
	source := uri.UUri{AuthorityName: "vehicle", UeID: 0x10AB, UeVersionMajor: 1}
	sink := uri.UUri{AuthorityName: "vehicle", UeID: 0x2002, UeVersionMajor: 2, ResourceID: 7}
	return &message.Attributes{
		Type:          message.TypeRequest,
		ID:            message.NewUUID(),
		Priority:      message.PriorityCS4,
		Source:        &source,
		Sink:          &sink,
		TTL:           1000,
		Token:         "token",
		PayloadFormat: message.FormatJSON,
	}
}

func benchmarkCodec(b *testing.B, c Codec) {
	attrs := benchAttributes()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := EncodeAttachment(c, attrs)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := DecodeAttachment(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodec(b, &JSONCodec{})
}

func BenchmarkCodecBinary(b *testing.B) {
	benchmarkCodec(b, &BinaryCodec{})
}

func BenchmarkCodecProtobuf(b *testing.B) {
	benchmarkCodec(b, &ProtobufCodec{})
}
