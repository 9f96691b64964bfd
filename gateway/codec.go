package gateway

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Packet is the gateway wire envelope. Sequence and Type are only present
// on DISPATCH packets.
type Packet struct {
	Op       GatewayOp           `json:"op" msgpack:"op"`
	Sequence int64               `json:"s,omitempty" msgpack:"s,omitempty"`
	Type     string              `json:"t,omitempty" msgpack:"t,omitempty"`
	Data     jsoniter.RawMessage `json:"d" msgpack:"d"`
}

// Codec encodes and decodes gateway payloads. The same codec is used for
// both directions within a process: ETF when an implementation is
// registered, JSON otherwise.
type Codec interface {
	// Name is the value of the encoding query parameter ("json", "etf").
	Name() string

	// Binary reports whether encoded payloads are sent as binary frames.
	Binary() bool

	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is the default wire codec.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Binary implements Codec.
func (JSONCodec) Binary() bool { return false }

// Encode implements Codec.
func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// zlibSuffix is the sync flush trailer terminating every logical message
// on a zlib-stream compressed connection.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// zlibHeaderSize is the length of the zlib stream header carried by the
// first message of a connection.
const zlibHeaderSize = 2

// inflateWindowSize is the deflate history window the server compresses
// against.
const inflateWindowSize = 32 * 1024

// EndsWithSyncFlush reports whether a compressed frame terminates a
// logical message.
func EndsWithSyncFlush(frame []byte) bool {
	return len(frame) >= len(zlibSuffix) && bytes.Equal(frame[len(frame)-len(zlibSuffix):], zlibSuffix)
}

// FrameCodec turns inbound websocket frames into packets and encodes
// outbound packets, optionally running the zlib-stream inflater between
// the socket and the wire codec.
//
// Compressed frames are accumulated until the sync flush trailer, then
// inflated as one logical message. The deflate history window spans
// messages, so the last 32 KiB of inflated output is carried forward as
// the dictionary for the next one. Sync flush leaves the stream byte
// aligned, which is what makes the per-message reset sound.
type FrameCodec struct {
	codec      Codec
	compressed bool

	started  bool
	inflate  io.ReadCloser
	window   []byte
	message  bytes.Buffer
	inflated bytes.Buffer
}

// NewFrameCodec creates a frame codec for one shard connection.
func NewFrameCodec(codec Codec, compressed bool) *FrameCodec {
	return &FrameCodec{
		codec:      codec,
		compressed: compressed,
	}
}

// Compressed reports whether the codec expects zlib-stream frames.
func (fc *FrameCodec) Compressed() bool { return fc.compressed }

// ReadPacket decodes the next packet, pulling frames through next as
// needed. A payload that fails to decode returns a DecodeError without
// touching the inflater state; the caller drops that one message and
// keeps reading.
func (fc *FrameCodec) ReadPacket(next func() ([]byte, error), packet *Packet) error {
	payload, err := fc.nextPayload(next)
	if err != nil {
		return err
	}

	if err := fc.codec.Decode(payload, packet); err != nil {
		return &DecodeError{err: err}
	}

	return nil
}

// nextPayload returns the raw bytes of the next logical message.
func (fc *FrameCodec) nextPayload(next func() ([]byte, error)) ([]byte, error) {
	if !fc.compressed {
		return next()
	}

	msg, err := fc.nextMessage(next)
	if err != nil {
		return nil, err
	}

	return fc.inflateMessage(msg)
}

// nextMessage accumulates frames until one ends on the sync flush
// trailer. The zlib header on the connection's first message is stripped
// so the inflater sees a raw deflate stream throughout.
func (fc *FrameCodec) nextMessage(next func() ([]byte, error)) ([]byte, error) {
	fc.message.Reset()

	for {
		frame, err := next()
		if err != nil {
			return nil, err
		}

		fc.message.Write(frame)

		if EndsWithSyncFlush(frame) {
			break
		}
	}

	msg := fc.message.Bytes()
	if !fc.started {
		if len(msg) <= zlibHeaderSize || msg[0]&0x0f != 8 {
			return nil, fmt.Errorf("gateway: malformed zlib stream header")
		}

		msg = msg[zlibHeaderSize:]
		fc.started = true
	}

	return msg, nil
}

// inflateMessage runs one logical message through the inflater and rolls
// the dictionary window forward. An error here means the deflate stream
// itself is corrupt, which no amount of skipping can recover from.
func (fc *FrameCodec) inflateMessage(msg []byte) ([]byte, error) {
	if fc.inflate == nil {
		fc.inflate = flate.NewReaderDict(bytes.NewReader(msg), fc.window)
	} else if err := fc.inflate.(flate.Resetter).Reset(bytes.NewReader(msg), fc.window); err != nil {
		return nil, fmt.Errorf("resetting inflater: %w", err)
	}

	fc.inflated.Reset()

	// The sync flush block never carries the final-block bit, so the
	// inflater reports ErrUnexpectedEOF exactly when the message's input
	// is spent.
	if _, err := fc.inflated.ReadFrom(fc.inflate); err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("inflating message: %w", err)
	}

	out := fc.inflated.Bytes()

	fc.window = append(fc.window, out...)
	if len(fc.window) > inflateWindowSize {
		fc.window = fc.window[len(fc.window)-inflateWindowSize:]
	}

	return out, nil
}

// Encode serializes an outbound packet with the selected wire codec.
func (fc *FrameCodec) Encode(op GatewayOp, data interface{}) ([]byte, error) {
	return fc.codec.Encode(struct {
		Op   GatewayOp   `json:"op" msgpack:"op"`
		Data interface{} `json:"d" msgpack:"d"`
	}{Op: op, Data: data})
}

// Binary reports whether outbound frames use the binary websocket opcode.
func (fc *FrameCodec) Binary() bool { return fc.codec.Binary() }

// Close releases the inflater.
func (fc *FrameCodec) Close() error {
	if fc.inflate != nil {
		err := fc.inflate.Close()
		fc.inflate = nil
		fc.window = nil

		return err
	}

	return nil
}

// DecodeError wraps a payload decode failure. Decode failures drop the
// offending message and are reported to the client as non-fatal.
type DecodeError struct {
	err error
}

func (e *DecodeError) Error() string { return "gateway: decoding frame: " + e.err.Error() }

// Unwrap returns the underlying decode failure.
func (e *DecodeError) Unwrap() error { return e.err }
