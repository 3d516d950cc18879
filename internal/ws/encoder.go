package ws

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encoder converts envelope maps to wire frames. JSON clients get plain text;
// protobuf clients get a Zstd-compressed google.protobuf.Struct.
type Encoder struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewEncoder creates a new Encoder with zstd compression.
func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Encoder{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// Encode frames msg for protocol p.
func (e *Encoder) Encode(p Protocol, msg map[string]any) ([]byte, error) {
	if p == ProtocolJSON {
		return json.Marshal(msg)
	}
	st, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return e.zstdEncoder.EncodeAll(pbData, nil), nil
}

// Decode parses a frame received over protocol p.
func (e *Encoder) Decode(p Protocol, frame []byte) (map[string]any, error) {
	if p == ProtocolJSON {
		var msg map[string]any
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal JSON message: %w", err)
		}
		return msg, nil
	}
	pbData, err := e.zstdDecoder.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(pbData, &st); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return st.AsMap(), nil
}

// Close releases encoder resources.
func (e *Encoder) Close() {
	if e.zstdEncoder != nil {
		e.zstdEncoder.Close()
	}
	if e.zstdDecoder != nil {
		e.zstdDecoder.Close()
	}
}
