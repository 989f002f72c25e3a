package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMalformedPacket indicates a datagram that could not be parsed as any
	// known root packet shape. Callers log and drop it (§7).
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrUnknownRootTag indicates a root tag outside the closed catalog.
	ErrUnknownRootTag = errors.New("unknown root tag")
)

// HazelMessage is one length-prefixed, tagged child frame: 2-byte
// little-endian length, 1-byte tag, payload. It is the framing used for both
// Reliable's children and for the game-data sub-children nested inside
// GameData/GameDataTo.
type HazelMessage struct {
	Tag     uint8
	Payload []byte
}

// ReadHazelMessages decodes a buffer as a back-to-back sequence of Hazel
// frames, stopping cleanly at end of input. A truncated trailing frame is
// reported as ErrMalformedPacket.
func ReadHazelMessages(b []byte) ([]HazelMessage, error) {
	var out []HazelMessage
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		msg, err := readHazelMessage(r)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func readHazelMessage(r *bytes.Reader) (HazelMessage, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return HazelMessage{}, fmt.Errorf("%w: hazel length: %w", ErrMalformedPacket, err)
	}
	tag, err := r.ReadByte()
	if err != nil {
		return HazelMessage{}, fmt.Errorf("%w: hazel tag: %w", ErrMalformedPacket, err)
	}
	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return HazelMessage{}, fmt.Errorf("%w: hazel payload: %w", ErrMalformedPacket, err)
		}
	}
	return HazelMessage{Tag: tag, Payload: payload}, nil
}

// WriteHazelMessage appends one length-prefixed, tagged frame to w.
func WriteHazelMessage(w *bytes.Buffer, tag uint8, payload []byte) {
	_ = binary.Write(w, binary.LittleEndian, uint16(len(payload)))
	w.WriteByte(tag)
	w.Write(payload)
}

// EncodeHazelMessages serializes a list of child frames back to back.
func EncodeHazelMessages(msgs []HazelMessage) []byte {
	buf := &bytes.Buffer{}
	for _, m := range msgs {
		WriteHazelMessage(buf, m.Tag, m.Payload)
	}
	return buf.Bytes()
}

// reader is a small cursor over a byte slice used by message Decode methods.
// It never panics on short input; a read past the end fails with
// io.ErrUnexpectedEOF.
type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) remaining() []byte { return r.b[r.pos:] }

func (r *reader) uint8() (uint8, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint16LE() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint16BE() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint32LE() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

// str reads a Hazel-style length-prefixed (1-byte length) UTF-8 string.
func (r *reader) str() (string, error) {
	n, err := r.uint8()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.b) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// bytesN reads exactly n raw bytes.
func (r *reader) bytesN(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// rest returns everything not yet consumed.
func (r *reader) rest() []byte {
	return r.b[r.pos:]
}

func writeUint8(w *bytes.Buffer, v uint8)      { w.WriteByte(v) }
func writeUint16LE(w *bytes.Buffer, v uint16)  { _ = binary.Write(w, binary.LittleEndian, v) }
func writeUint16BE(w *bytes.Buffer, v uint16)  { _ = binary.Write(w, binary.BigEndian, v) }
func writeUint32LE(w *bytes.Buffer, v uint32)  { _ = binary.Write(w, binary.LittleEndian, v) }

func writeStr(w *bytes.Buffer, s string) {
	writeUint8(w, uint8(len(s)))
	w.WriteString(s)
}
