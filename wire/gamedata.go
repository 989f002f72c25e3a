package wire

import (
	"bytes"
	"fmt"
)

// Rpc carries a custom remote-procedure call addressed to a net-object. The
// mod framework's Hello-handshake traffic travels as Rpc messages targeting
// ModReservedTag (§4.4, glossary).
type Rpc struct {
	NetID  uint32
	CallID uint8
	Data   []byte
}

func (m Rpc) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.NetID)
	writeUint8(buf, m.CallID)
	buf.Write(m.Data)
	return buf.Bytes()
}

func decodeRpc(p []byte) (Rpc, error) {
	r := newReader(p)
	netID, err := r.uint32LE()
	if err != nil {
		return Rpc{}, err
	}
	callID, err := r.uint8()
	if err != nil {
		return Rpc{}, err
	}
	return Rpc{NetID: netID, CallID: callID, Data: append([]byte(nil), r.rest()...)}, nil
}

// Data is a raw net-object state update. GameData whose sole child is a Data
// message for a CustomNetworkTransform net-object is sent unreliably (§4.6).
type Data struct {
	NetID   uint32
	NetRole uint8 // carries the net-object's class identity for the unreliable-path check
	Payload []byte
}

func (m Data) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.NetID)
	writeUint8(buf, m.NetRole)
	buf.Write(m.Payload)
	return buf.Bytes()
}

func decodeData(p []byte) (Data, error) {
	r := newReader(p)
	netID, err := r.uint32LE()
	if err != nil {
		return Data{}, err
	}
	role, err := r.uint8()
	if err != nil {
		return Data{}, err
	}
	return Data{NetID: netID, NetRole: role, Payload: append([]byte(nil), r.rest()...)}, nil
}

// NetObjectCustomNetworkTransform is the net-role value used by movement
// updates; it is the only class whose Data frame travels unreliably.
const NetObjectCustomNetworkTransform uint8 = 1

// RpcSendChat is the CallID an Rpc child carries when it is a chat message.
// The wire catalog doesn't otherwise distinguish chat traffic from any other
// custom RPC, so the chat command dispatcher (§4.7) recognizes one by this
// CallID rather than by a dedicated root or child tag.
const RpcSendChat uint8 = 2

// ChatSideLeft and ChatSideRight mark which side of the chat bubble a
// message renders on; the dispatcher's replies use Left to distinguish them
// from ordinary player speech (§4.7 "Left side marker").
const (
	ChatSideRight uint8 = 0
	ChatSideLeft  uint8 = 1
)

// EncodeChatRpc builds the Rpc carrying a chat message.
func EncodeChatRpc(netID uint32, text string, side uint8) Rpc {
	buf := &bytes.Buffer{}
	writeUint8(buf, side)
	writeStr(buf, text)
	return Rpc{NetID: netID, CallID: RpcSendChat, Data: buf.Bytes()}
}

// DecodeChatText reports the text and side of rpc if it is a chat message.
func DecodeChatText(rpc Rpc) (text string, side uint8, ok bool) {
	if rpc.CallID != RpcSendChat {
		return "", 0, false
	}
	r := newReader(rpc.Data)
	side, err := r.uint8()
	if err != nil {
		return "", 0, false
	}
	text, err = r.str()
	if err != nil {
		return "", 0, false
	}
	return text, side, true
}

type Spawn struct {
	ObjectType uint32
	OwnerID    uint32
	Flags      uint8
	Components []byte
}

func (m Spawn) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.ObjectType)
	writeUint32LE(buf, m.OwnerID)
	writeUint8(buf, m.Flags)
	buf.Write(m.Components)
	return buf.Bytes()
}

func decodeSpawn(p []byte) (Spawn, error) {
	r := newReader(p)
	ot, err := r.uint32LE()
	if err != nil {
		return Spawn{}, err
	}
	owner, err := r.uint32LE()
	if err != nil {
		return Spawn{}, err
	}
	flags, err := r.uint8()
	if err != nil {
		return Spawn{}, err
	}
	return Spawn{ObjectType: ot, OwnerID: owner, Flags: flags, Components: append([]byte(nil), r.rest()...)}, nil
}

type Despawn struct{ NetID uint32 }

func (m Despawn) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.NetID)
	return buf.Bytes()
}

func decodeDespawn(p []byte) (Despawn, error) {
	r := newReader(p)
	id, err := r.uint32LE()
	if err != nil {
		return Despawn{}, err
	}
	return Despawn{NetID: id}, nil
}

type SceneChange struct {
	ClientID  uint32
	SceneName string
}

func (m SceneChange) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.ClientID)
	writeStr(buf, m.SceneName)
	return buf.Bytes()
}

func decodeSceneChange(p []byte) (SceneChange, error) {
	r := newReader(p)
	cid, err := r.uint32LE()
	if err != nil {
		return SceneChange{}, err
	}
	scene, err := r.str()
	if err != nil {
		return SceneChange{}, err
	}
	return SceneChange{ClientID: cid, SceneName: scene}, nil
}

type ReadyUp struct{ ClientID uint32 }

func (m ReadyUp) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.ClientID)
	return buf.Bytes()
}

func decodeReadyUp(p []byte) (ReadyUp, error) {
	r := newReader(p)
	id, err := r.uint32LE()
	if err != nil {
		return ReadyUp{}, err
	}
	return ReadyUp{ClientID: id}, nil
}

type ClientInfo struct{ ClientID uint32 }

func (m ClientInfo) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.ClientID)
	return buf.Bytes()
}

func decodeClientInfo(p []byte) (ClientInfo, error) {
	r := newReader(p)
	id, err := r.uint32LE()
	if err != nil {
		return ClientInfo{}, err
	}
	return ClientInfo{ClientID: id}, nil
}

// UnknownGameData is the catch-all for game-data sub-children outside the
// catalog. Dropped unless socket.acceptUnknownGameData forwards it opaquely
// (§4.1).
type UnknownGameData struct {
	OriginalTag uint8
	Payload     []byte
}

func (m UnknownGameData) Encode() []byte {
	return append([]byte(nil), m.Payload...)
}

// ModDeclaration announces one client-side mod during the handshake (§3,
// §4.4). It rides inside an Rpc addressed to ModReservedTag.
type ModDeclaration struct {
	NetID   uint32
	ModID   string
	Version string
	Side    ModSide
}

// ModSide is the network side a declared mod operates on.
type ModSide uint8

const (
	ModClientside ModSide = iota
	ModServerside
	ModBoth
)

func (m ModDeclaration) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.NetID)
	writeStr(buf, m.ModID)
	writeStr(buf, m.Version)
	writeUint8(buf, uint8(m.Side))
	return buf.Bytes()
}

// DecodeModDeclaration parses the payload of an Rpc targeting
// ModReservedTag.
func DecodeModDeclaration(p []byte) (ModDeclaration, error) {
	r := newReader(p)
	netID, err := r.uint32LE()
	if err != nil {
		return ModDeclaration{}, err
	}
	modID, err := r.str()
	if err != nil {
		return ModDeclaration{}, err
	}
	version, err := r.str()
	if err != nil {
		return ModDeclaration{}, err
	}
	side, err := r.uint8()
	if err != nil {
		return ModDeclaration{}, err
	}
	return ModDeclaration{NetID: netID, ModID: modID, Version: version, Side: ModSide(side)}, nil
}

// DecodeGameDataChild decodes one game-data sub-child by tag. Unknown tags
// decode to UnknownGameData rather than erroring (§4.1): the caller decides
// whether to drop or forward it opaquely based on socket.acceptUnknownGameData.
func DecodeGameDataChild(tag uint8, payload []byte) any {
	switch tag {
	case GameDataRpc:
		v, err := decodeRpc(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	case GameDataData:
		v, err := decodeData(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	case GameDataSpawn:
		v, err := decodeSpawn(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	case GameDataDespawn:
		v, err := decodeDespawn(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	case GameDataSceneChange:
		v, err := decodeSceneChange(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	case GameDataReadyUp:
		v, err := decodeReadyUp(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	case GameDataClientInfo:
		v, err := decodeClientInfo(payload)
		if err != nil {
			return UnknownGameData{OriginalTag: tag, Payload: payload}
		}
		return v
	default:
		return UnknownGameData{OriginalTag: tag, Payload: payload}
	}
}

// EncodeGameDataChild re-wraps a decoded game-data sub-child for broadcast,
// preserving the original tag for anything that decoded as unknown.
func EncodeGameDataChild(tag uint8, body any) HazelMessage {
	if u, ok := body.(UnknownGameData); ok {
		return HazelMessage{Tag: u.OriginalTag, Payload: u.Payload}
	}
	type encoder interface{ Encode() []byte }
	e, ok := body.(encoder)
	if !ok {
		panic(fmt.Sprintf("wire: game-data child type %T has no Encode method", body))
	}
	return HazelMessage{Tag: tag, Payload: e.Encode()}
}
