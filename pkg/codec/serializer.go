package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/archivemail/blockstore/pkg/block"
)

// Serializer turns a caller's in-memory value into block payload bytes
// and back. Unlike Compressor, the encoding is not self-describing
// beyond the block's payload_encoding tag — callers must know which
// Go type to unmarshal into.
type Serializer interface {
	Encoding() block.Encoding
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer implements Serializer with encoding/json.
type JSONSerializer struct{}

func (JSONSerializer) Encoding() block.Encoding { return block.EncodingJson }

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// RawBytesSerializer implements Serializer for values that are already
// []byte; Marshal/Unmarshal of any other type is an error.
type RawBytesSerializer struct{}

func (RawBytesSerializer) Encoding() block.Encoding { return block.EncodingRawBytes }

func (RawBytesSerializer) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("raw bytes serializer: value is %T, not []byte", v)
	}
	return b, nil
}

func (RawBytesSerializer) Unmarshal(data []byte, v interface{}) error {
	ptr, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw bytes serializer: target is %T, not *[]byte", v)
	}
	*ptr = data
	return nil
}

// ProtobufSerializer implements Serializer for proto.Message values.
type ProtobufSerializer struct{}

func (ProtobufSerializer) Encoding() block.Encoding { return block.EncodingProtobuf }

func (ProtobufSerializer) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf serializer: value is %T, not proto.Message", v)
	}
	return proto.Marshal(msg)
}

func (ProtobufSerializer) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protobuf serializer: target is %T, not proto.Message", v)
	}
	return proto.Unmarshal(data, msg)
}
