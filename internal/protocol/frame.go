// Package protocol implements the length-prefixed wire format used between
// the routing bus and its peers.
//
// Every frame is laid out as
//
//	<LEN:5 zero-padded digits><SERVICE:5 space-padded chars><PAYLOAD bytes>
//
// where LEN counts the service field plus the payload, and PAYLOAD is a UTF-8
// JSON document. The minimum valid frame is 10 bytes (empty payload). The
// codec holds no state and performs no I/O beyond the stream helpers.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// LengthWidth is the size in bytes of the decimal length prefix.
	LengthWidth = 5
	// ServiceWidth is the size in bytes of the service identifier field.
	ServiceWidth = 5
	// HeaderWidth is the minimum size of a complete frame.
	HeaderWidth = LengthWidth + ServiceWidth
	// MaxBodyLength is the largest SERVICE+PAYLOAD length the five digit
	// prefix can express.
	MaxBodyLength = 99999
)

var (
	// ErrFrameTooShort is returned when fewer than HeaderWidth bytes are available.
	ErrFrameTooShort = errors.New("protocol: frame shorter than header")
	// ErrPayloadDecode is returned when the payload bytes are not valid JSON.
	ErrPayloadDecode = errors.New("protocol: payload is not valid JSON")
	// ErrLengthPrefix is returned when the length field is not five decimal digits.
	ErrLengthPrefix = errors.New("protocol: malformed length prefix")
	// ErrFrameTooLarge is returned when SERVICE+PAYLOAD exceeds MaxBodyLength.
	ErrFrameTooLarge = errors.New("protocol: frame body exceeds maximum length")
)

// NormalizeService pads a service identifier with trailing spaces to
// ServiceWidth, truncating longer identifiers.
func NormalizeService(service string) string {
	if len(service) >= ServiceWidth {
		return service[:ServiceWidth]
	}
	return service + strings.Repeat(" ", ServiceWidth-len(service))
}

// Encode marshals value to JSON and frames it under the given service
// identifier.
func Encode(service string, value any) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return EncodeRaw(service, payload)
}

// EncodeRaw frames an already serialized JSON payload. A nil or empty payload
// produces the minimum ten byte frame.
func EncodeRaw(service string, payload []byte) ([]byte, error) {
	body := len(payload) + ServiceWidth
	if body > MaxBodyLength {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, 0, LengthWidth+body)
	frame = append(frame, fmt.Sprintf("%05d", body)...)
	frame = append(frame, NormalizeService(service)...)
	frame = append(frame, payload...)
	return frame, nil
}

// Decode splits a complete frame into its padded service identifier and raw
// JSON payload. The declared length is validated for shape but, mirroring the
// tolerant reader on the peer side, not enforced against the buffer size; the
// buffer boundary is authoritative. An empty payload decodes to a nil
// RawMessage.
func Decode(frame []byte) (string, json.RawMessage, error) {
	if len(frame) < HeaderWidth {
		return "", nil, ErrFrameTooShort
	}
	if !allDigits(frame[:LengthWidth]) {
		return "", nil, ErrLengthPrefix
	}

	service := string(frame[LengthWidth:HeaderWidth])
	payload := frame[HeaderWidth:]
	if len(payload) == 0 {
		return service, nil, nil
	}
	if !json.Valid(payload) {
		return service, nil, ErrPayloadDecode
	}

	out := make(json.RawMessage, len(payload))
	copy(out, payload)
	return service, out, nil
}

// ReadFrame reads exactly one frame from r, using the length prefix to bound
// the read. It returns the padded service identifier and the payload. Errors
// from the underlying reader are passed through so callers can distinguish a
// peer disconnect (io.EOF) from a protocol violation.
func ReadFrame(r io.Reader) (string, json.RawMessage, error) {
	header := make([]byte, LengthWidth)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, err
	}
	if !allDigits(header) {
		return "", nil, ErrLengthPrefix
	}

	length := 0
	for _, c := range header {
		length = length*10 + int(c-'0')
	}
	if length < ServiceWidth {
		return "", nil, ErrFrameTooShort
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", nil, err
	}

	service := string(body[:ServiceWidth])
	payload := body[ServiceWidth:]
	if len(payload) == 0 {
		return service, nil, nil
	}
	if !json.Valid(payload) {
		return service, nil, ErrPayloadDecode
	}
	return service, json.RawMessage(payload), nil
}

// WriteFrame encodes value under service and writes the frame to w.
func WriteFrame(w io.Writer, service string, value any) error {
	frame, err := Encode(service, value)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if bw, ok := w.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}

func allDigits(buf []byte) bool {
	for _, c := range buf {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
