package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protowire"
)

type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingBinary
)

func (encoding Encoding) String() string {
	if encoding == EncodingBinary {
		return "binary"
	}
	return "json"
}

func ParseEncoding(value string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "json":
		return EncodingJSON, nil
	case "binary", "proto", "protowire":
		return EncodingBinary, nil
	default:
		return EncodingJSON, fmt.Errorf("unknown encoding %q", value)
	}
}

const (
	frameResolve = "resolve"
	frameInvoke  = "invoke"
	frameAck     = "ack"
)

// frame is the single message shape exchanged with a websocket peer.
type frame struct {
	Type      string   `json:"type"`
	Seq       uint64   `json:"seq"`
	Session   string   `json:"session,omitempty"`
	Name      string   `json:"name,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Method    MethodID `json:"method"`
	Args      Args     `json:"args"`
	Error     string   `json:"error,omitempty"`
}

// Field numbers of the binary frame.
const (
	fieldType      protowire.Number = 1
	fieldSeq       protowire.Number = 2
	fieldSession   protowire.Number = 3
	fieldName      protowire.Number = 4
	fieldSignature protowire.Number = 5
	fieldMethod    protowire.Number = 6
	fieldKind      protowire.Number = 7
	fieldRoot      protowire.Number = 8
	fieldPath      protowire.Number = 9
	fieldError     protowire.Number = 10
)

var errMalformedFrame = errors.New("malformed bridge frame")

func encodeFrame(encoding Encoding, value frame) (int, []byte, error) {
	if encoding == EncodingJSON {
		payload, err := json.Marshal(value)
		return websocket.TextMessage, payload, err
	}
	return websocket.BinaryMessage, marshalBinaryFrame(value), nil
}

func decodeFrame(messageType int, payload []byte) (frame, Encoding, error) {
	switch messageType {
	case websocket.TextMessage:
		var value frame
		if err := json.Unmarshal(payload, &value); err != nil {
			return frame{}, EncodingJSON, fmt.Errorf("%w: %w", errMalformedFrame, err)
		}
		return value, EncodingJSON, nil
	case websocket.BinaryMessage:
		value, err := unmarshalBinaryFrame(payload)
		return value, EncodingBinary, err
	default:
		return frame{}, EncodingJSON, fmt.Errorf("%w: message type %d", errMalformedFrame, messageType)
	}
}

func marshalBinaryFrame(value frame) []byte {
	var out []byte
	appendString := func(field protowire.Number, text string) {
		if text == "" {
			return
		}
		out = protowire.AppendTag(out, field, protowire.BytesType)
		out = protowire.AppendString(out, text)
	}
	appendVarint := func(field protowire.Number, number uint64) {
		out = protowire.AppendTag(out, field, protowire.VarintType)
		out = protowire.AppendVarint(out, number)
	}

	appendString(fieldType, value.Type)
	appendVarint(fieldSeq, value.Seq)
	appendString(fieldSession, value.Session)
	appendString(fieldName, value.Name)
	appendString(fieldSignature, value.Signature)
	appendVarint(fieldMethod, uint64(value.Method))
	appendVarint(fieldKind, protowire.EncodeZigZag(int64(value.Args.Kind)))
	appendString(fieldRoot, value.Args.Root)
	appendString(fieldPath, value.Args.Path)
	appendString(fieldError, value.Error)
	return out
}

func unmarshalBinaryFrame(payload []byte) (frame, error) {
	var value frame
	for len(payload) > 0 {
		field, wireType, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return frame{}, fmt.Errorf("%w: %w", errMalformedFrame, protowire.ParseError(n))
		}
		payload = payload[n:]

		switch {
		case wireType == protowire.BytesType && isStringField(field):
			text, n := protowire.ConsumeString(payload)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %w", errMalformedFrame, protowire.ParseError(n))
			}
			payload = payload[n:]
			setStringField(&value, field, text)
		case wireType == protowire.VarintType && isVarintField(field):
			number, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %w", errMalformedFrame, protowire.ParseError(n))
			}
			payload = payload[n:]
			setVarintField(&value, field, number)
		default:
			n := protowire.ConsumeFieldValue(field, wireType, payload)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %w", errMalformedFrame, protowire.ParseError(n))
			}
			payload = payload[n:]
		}
	}
	if value.Type == "" {
		return frame{}, fmt.Errorf("%w: missing type", errMalformedFrame)
	}
	return value, nil
}

func isStringField(field protowire.Number) bool {
	switch field {
	case fieldType, fieldSession, fieldName, fieldSignature, fieldRoot, fieldPath, fieldError:
		return true
	}
	return false
}

func isVarintField(field protowire.Number) bool {
	return field == fieldSeq || field == fieldMethod || field == fieldKind
}

func setStringField(value *frame, field protowire.Number, text string) {
	switch field {
	case fieldType:
		value.Type = text
	case fieldSession:
		value.Session = text
	case fieldName:
		value.Name = text
	case fieldSignature:
		value.Signature = text
	case fieldRoot:
		value.Args.Root = text
	case fieldPath:
		value.Args.Path = text
	case fieldError:
		value.Error = text
	}
}

func setVarintField(value *frame, field protowire.Number, number uint64) {
	switch field {
	case fieldSeq:
		value.Seq = number
	case fieldMethod:
		value.Method = MethodID(number)
	case fieldKind:
		value.Args.Kind = int32(protowire.DecodeZigZag(number))
	}
}
