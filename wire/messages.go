package wire

import (
	"bytes"
	"fmt"
)

// RootPacket is the decoded form of one UDP datagram: a root tag, an
// optional nonce, and a tag-specific body.
type RootPacket struct {
	Tag   uint8
	Nonce uint16 // valid for Reliable, Hello, HelloMod, Acknowledge, Ping
	Body  any
}

// HelloBody is the payload of an ordinary (non-modded) Hello.
type HelloBody struct{}

// HelloModBody is the payload of a modded Hello handshake (§4.1, §4.4).
type HelloModBody struct {
	ModCount uint8
	Username string
	Language string
	Version  string
}

// DisconnectBody carries the structured reason sent with a Disconnect
// packet (§7). The server never retries after sending one.
type DisconnectBody struct {
	Reason DisconnectReason
}

// AcknowledgeBody acks a nonce and optionally reports a bitmask of the eight
// most recent nonces preceding it that the sender still hasn't seen.
type AcknowledgeBody struct {
	MissingMask uint8
}

// PingBody is empty; the nonce alone carries the round-trip marker.
type PingBody struct{}

// ReliableBody wraps a Hazel-framed list of child messages.
type ReliableBody struct {
	Children []HazelMessage
}

// ParseRoot decodes one datagram into a RootPacket. Unknown root tags and
// truncated bodies are reported as errors; callers log and drop (§7).
func ParseRoot(b []byte, dir Direction) (RootPacket, error) {
	if len(b) < 1 {
		return RootPacket{}, fmt.Errorf("%w: empty datagram", ErrMalformedPacket)
	}
	r := newReader(b[1:])
	tag := b[0]

	switch tag {
	case RootReliable:
		nonce, err := r.uint16BE()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: reliable nonce: %w", ErrMalformedPacket, err)
		}
		children, err := ReadHazelMessages(r.rest())
		if err != nil {
			return RootPacket{}, err
		}
		return RootPacket{Tag: tag, Nonce: nonce, Body: ReliableBody{Children: children}}, nil
	case RootHello:
		nonce, err := r.uint16BE()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: hello nonce: %w", ErrMalformedPacket, err)
		}
		return RootPacket{Tag: tag, Nonce: nonce, Body: HelloBody{}}, nil
	case RootHelloMod:
		nonce, err := r.uint16BE()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: hellomod nonce: %w", ErrMalformedPacket, err)
		}
		modCount, err := r.uint8()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: hellomod modcount: %w", ErrMalformedPacket, err)
		}
		username, err := r.str()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: hellomod username: %w", ErrMalformedPacket, err)
		}
		language, err := r.str()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: hellomod language: %w", ErrMalformedPacket, err)
		}
		version, err := r.str()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: hellomod version: %w", ErrMalformedPacket, err)
		}
		return RootPacket{Tag: tag, Nonce: nonce, Body: HelloModBody{
			ModCount: modCount, Username: username, Language: language, Version: version,
		}}, nil
	case RootDisconnect:
		code, err := r.uint8()
		if err != nil {
			// a bare Disconnect with no body is valid
			return RootPacket{Tag: tag, Body: DisconnectBody{}}, nil
		}
		msg, _ := r.str()
		return RootPacket{Tag: tag, Body: DisconnectBody{Reason: DisconnectReason{Code: DisconnectCode(code), Message: msg}}}, nil
	case RootAcknowledge:
		nonce, err := r.uint16BE()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: ack nonce: %w", ErrMalformedPacket, err)
		}
		mask, _ := r.uint8()
		return RootPacket{Tag: tag, Nonce: nonce, Body: AcknowledgeBody{MissingMask: mask}}, nil
	case RootPing:
		nonce, err := r.uint16BE()
		if err != nil {
			return RootPacket{}, fmt.Errorf("%w: ping nonce: %w", ErrMalformedPacket, err)
		}
		return RootPacket{Tag: tag, Nonce: nonce, Body: PingBody{}}, nil
	default:
		return RootPacket{}, fmt.Errorf("%w: tag 0x%02x", ErrUnknownRootTag, tag)
	}
}

// WriteRoot serializes a RootPacket back to wire form.
func WriteRoot(p RootPacket, dir Direction) []byte {
	buf := &bytes.Buffer{}
	writeUint8(buf, p.Tag)

	switch body := p.Body.(type) {
	case ReliableBody:
		writeUint16BE(buf, p.Nonce)
		buf.Write(EncodeHazelMessages(body.Children))
	case HelloBody:
		writeUint16BE(buf, p.Nonce)
	case HelloModBody:
		writeUint16BE(buf, p.Nonce)
		writeUint8(buf, body.ModCount)
		writeStr(buf, body.Username)
		writeStr(buf, body.Language)
		writeStr(buf, body.Version)
	case DisconnectBody:
		if body.Reason.Code != DisconnectNone || body.Reason.Message != "" {
			writeUint8(buf, uint8(body.Reason.Code))
			writeStr(buf, body.Reason.Message)
		}
	case AcknowledgeBody:
		writeUint16BE(buf, p.Nonce)
		writeUint8(buf, body.MissingMask)
	case PingBody:
		writeUint16BE(buf, p.Nonce)
	default:
		panic(fmt.Sprintf("wire: unrecognized root body type %T", body))
	}
	return buf.Bytes()
}
