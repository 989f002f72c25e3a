package wire

import (
	"bytes"
	"fmt"
)

// HostGame requests creation of a room. SettingsBlob is opaque to the codec;
// the relay layer deserializes it with config.DecodeGameSettings.
type HostGame struct {
	SettingsBlob []byte
}

func (m HostGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint16LE(buf, uint16(len(m.SettingsBlob)))
	buf.Write(m.SettingsBlob)
	return buf.Bytes()
}

func decodeHostGame(p []byte) (HostGame, error) {
	r := newReader(p)
	n, err := r.uint16LE()
	if err != nil {
		return HostGame{}, err
	}
	b, err := r.bytesN(int(n))
	if err != nil {
		return HostGame{}, err
	}
	return HostGame{SettingsBlob: append([]byte(nil), b...)}, nil
}

// JoinGame requests joining an existing room by code.
type JoinGame struct {
	Code int32
}

func (m JoinGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	return buf.Bytes()
}

func decodeJoinGame(p []byte) (JoinGame, error) {
	r := newReader(p)
	v, err := r.uint32LE()
	if err != nil {
		return JoinGame{}, err
	}
	return JoinGame{Code: int32(v)}, nil
}

// StartGame, EndGame, RemoveGame, AlterGame are host-only root messages
// addressed to a room by code (§4.6 host-only root messages).
type StartGame struct{ Code int32 }

func (m StartGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	return buf.Bytes()
}

func decodeStartGame(p []byte) (StartGame, error) {
	r := newReader(p)
	v, err := r.uint32LE()
	if err != nil {
		return StartGame{}, err
	}
	return StartGame{Code: int32(v)}, nil
}

type EndGame struct {
	Code   int32
	Reason uint8
}

func (m EndGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	writeUint8(buf, m.Reason)
	return buf.Bytes()
}

func decodeEndGame(p []byte) (EndGame, error) {
	r := newReader(p)
	code, err := r.uint32LE()
	if err != nil {
		return EndGame{}, err
	}
	reason, err := r.uint8()
	if err != nil {
		return EndGame{}, err
	}
	return EndGame{Code: int32(code), Reason: reason}, nil
}

type RemoveGame struct{ Code int32 }

func (m RemoveGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	return buf.Bytes()
}

func decodeRemoveGame(p []byte) (RemoveGame, error) {
	r := newReader(p)
	v, err := r.uint32LE()
	if err != nil {
		return RemoveGame{}, err
	}
	return RemoveGame{Code: int32(v)}, nil
}

type AlterGame struct {
	Code         int32
	SettingsBlob []byte
}

func (m AlterGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	writeUint16LE(buf, uint16(len(m.SettingsBlob)))
	buf.Write(m.SettingsBlob)
	return buf.Bytes()
}

func decodeAlterGame(p []byte) (AlterGame, error) {
	r := newReader(p)
	code, err := r.uint32LE()
	if err != nil {
		return AlterGame{}, err
	}
	n, err := r.uint16LE()
	if err != nil {
		return AlterGame{}, err
	}
	b, err := r.bytesN(int(n))
	if err != nil {
		return AlterGame{}, err
	}
	return AlterGame{Code: int32(code), SettingsBlob: append([]byte(nil), b...)}, nil
}

// KickPlayer is host-only; Banned mirrors the client's ban checkbox.
type KickPlayer struct {
	Code     int32
	ClientID uint32
	Banned   bool
}

func (m KickPlayer) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	writeUint32LE(buf, m.ClientID)
	b := uint8(0)
	if m.Banned {
		b = 1
	}
	writeUint8(buf, b)
	return buf.Bytes()
}

func decodeKickPlayer(p []byte) (KickPlayer, error) {
	r := newReader(p)
	code, err := r.uint32LE()
	if err != nil {
		return KickPlayer{}, err
	}
	cid, err := r.uint32LE()
	if err != nil {
		return KickPlayer{}, err
	}
	b, err := r.uint8()
	if err != nil {
		return KickPlayer{}, err
	}
	return KickPlayer{Code: int32(code), ClientID: cid, Banned: b != 0}, nil
}

// GetGameList requests a filtered room listing (§4.6).
type GetGameList struct {
	MapFilter     uint32
	ImpostorCount uint8
	Keyword       string
}

func (m GetGameList) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, m.MapFilter)
	writeUint8(buf, m.ImpostorCount)
	writeStr(buf, m.Keyword)
	return buf.Bytes()
}

func decodeGetGameList(p []byte) (GetGameList, error) {
	r := newReader(p)
	mf, err := r.uint32LE()
	if err != nil {
		return GetGameList{}, err
	}
	ic, err := r.uint8()
	if err != nil {
		return GetGameList{}, err
	}
	kw, err := r.str()
	if err != nil {
		return GetGameList{}, err
	}
	return GetGameList{MapFilter: mf, ImpostorCount: ic, Keyword: kw}, nil
}

// GameData and GameDataTo carry an opaque, Hazel-framed list of game-data
// sub-children (§4.1, §4.6). GameDataTo additionally names a single
// recipient.
type GameData struct {
	Code     int32
	Children []HazelMessage
}

func (m GameData) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	buf.Write(EncodeHazelMessages(m.Children))
	return buf.Bytes()
}

func decodeGameData(p []byte) (GameData, error) {
	r := newReader(p)
	code, err := r.uint32LE()
	if err != nil {
		return GameData{}, err
	}
	children, err := ReadHazelMessages(r.rest())
	if err != nil {
		return GameData{}, err
	}
	return GameData{Code: int32(code), Children: children}, nil
}

type GameDataTo struct {
	Code        int32
	RecipientID uint32
	Children    []HazelMessage
}

func (m GameDataTo) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	writeUint32LE(buf, m.RecipientID)
	buf.Write(EncodeHazelMessages(m.Children))
	return buf.Bytes()
}

func decodeGameDataTo(p []byte) (GameDataTo, error) {
	r := newReader(p)
	code, err := r.uint32LE()
	if err != nil {
		return GameDataTo{}, err
	}
	rid, err := r.uint32LE()
	if err != nil {
		return GameDataTo{}, err
	}
	children, err := ReadHazelMessages(r.rest())
	if err != nil {
		return GameDataTo{}, err
	}
	return GameDataTo{Code: int32(code), RecipientID: rid, Children: children}, nil
}

// JoinedGame is broadcast to existing members and sent back to the joiner
// (with the full member list, per §4.6).
type JoinedGame struct {
	Code     int32
	ClientID uint32
	HostID   uint32
	Members  []uint32
}

func (m JoinedGame) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint32LE(buf, uint32(m.Code))
	writeUint32LE(buf, m.ClientID)
	writeUint32LE(buf, m.HostID)
	writeUint16LE(buf, uint16(len(m.Members)))
	for _, id := range m.Members {
		writeUint32LE(buf, id)
	}
	return buf.Bytes()
}

func decodeJoinedGame(p []byte) (JoinedGame, error) {
	r := newReader(p)
	code, err := r.uint32LE()
	if err != nil {
		return JoinedGame{}, err
	}
	cid, err := r.uint32LE()
	if err != nil {
		return JoinedGame{}, err
	}
	hid, err := r.uint32LE()
	if err != nil {
		return JoinedGame{}, err
	}
	n, err := r.uint16LE()
	if err != nil {
		return JoinedGame{}, err
	}
	members := make([]uint32, 0, n)
	for i := 0; i < int(n); i++ {
		id, err := r.uint32LE()
		if err != nil {
			return JoinedGame{}, err
		}
		members = append(members, id)
	}
	return JoinedGame{Code: int32(code), ClientID: cid, HostID: hid, Members: members}, nil
}

// JoinError reports a failed join without altering room state (§4.6).
type JoinError struct {
	Reason DisconnectReason
}

func (m JoinError) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint8(buf, uint8(m.Reason.Code))
	writeStr(buf, m.Reason.Message)
	return buf.Bytes()
}

func decodeJoinError(p []byte) (JoinError, error) {
	r := newReader(p)
	code, err := r.uint8()
	if err != nil {
		return JoinError{}, err
	}
	msg, err := r.str()
	if err != nil {
		return JoinError{}, err
	}
	return JoinError{Reason: DisconnectReason{Code: DisconnectCode(code), Message: msg}}, nil
}

// GameListEntry is one row of a GetGameList reply (§4.6).
type GameListEntry struct {
	Code          int32
	HostAddr      string
	HostPort      uint16
	HostUsername  string
	PlayerCount   uint8
	AgeSeconds    uint32
	Map           uint8
	ImpostorCount uint8
	MaxPlayers    uint8
}

// GameList is the reply body to GetGameList, capped at 10 entries (§4.6).
type GameList struct {
	Entries []GameListEntry
}

func (m GameList) Encode() []byte {
	buf := &bytes.Buffer{}
	writeUint8(buf, uint8(len(m.Entries)))
	for _, e := range m.Entries {
		writeUint32LE(buf, uint32(e.Code))
		writeStr(buf, e.HostAddr)
		writeUint16LE(buf, e.HostPort)
		writeStr(buf, e.HostUsername)
		writeUint8(buf, e.PlayerCount)
		writeUint32LE(buf, e.AgeSeconds)
		writeUint8(buf, e.Map)
		writeUint8(buf, e.ImpostorCount)
		writeUint8(buf, e.MaxPlayers)
	}
	return buf.Bytes()
}

func decodeGameList(p []byte) (GameList, error) {
	r := newReader(p)
	n, err := r.uint8()
	if err != nil {
		return GameList{}, err
	}
	entries := make([]GameListEntry, 0, n)
	for i := 0; i < int(n); i++ {
		code, err := r.uint32LE()
		if err != nil {
			return GameList{}, err
		}
		addr, err := r.str()
		if err != nil {
			return GameList{}, err
		}
		port, err := r.uint16LE()
		if err != nil {
			return GameList{}, err
		}
		user, err := r.str()
		if err != nil {
			return GameList{}, err
		}
		pc, err := r.uint8()
		if err != nil {
			return GameList{}, err
		}
		age, err := r.uint32LE()
		if err != nil {
			return GameList{}, err
		}
		mp, err := r.uint8()
		if err != nil {
			return GameList{}, err
		}
		ic, err := r.uint8()
		if err != nil {
			return GameList{}, err
		}
		mx, err := r.uint8()
		if err != nil {
			return GameList{}, err
		}
		entries = append(entries, GameListEntry{
			Code: int32(code), HostAddr: addr, HostPort: port, HostUsername: user,
			PlayerCount: pc, AgeSeconds: age, Map: mp, ImpostorCount: ic, MaxPlayers: mx,
		})
	}
	return GameList{Entries: entries}, nil
}

// DecodedChild pairs a decoded Reliable child with its tag, for code that
// needs to re-tag it (e.g. the perspective pipeline, §4.6).
type DecodedChild struct {
	Tag  uint8
	Body any
}

// DecodeChild decodes one Reliable child payload by tag. An unrecognized tag
// returns an error wrapping ErrUnknownRootTag; the caller (root-message
// handler) logs it and drops that child.
func DecodeChild(tag uint8, payload []byte) (any, error) {
	switch tag {
	case ChildHostGame:
		return decodeHostGame(payload)
	case ChildJoinGame:
		return decodeJoinGame(payload)
	case ChildStartGame:
		return decodeStartGame(payload)
	case ChildEndGame:
		return decodeEndGame(payload)
	case ChildRemoveGame:
		return decodeRemoveGame(payload)
	case ChildAlterGame:
		return decodeAlterGame(payload)
	case ChildKickPlayer:
		return decodeKickPlayer(payload)
	case ChildGetGameList:
		return decodeGetGameList(payload)
	case ChildGameData:
		return decodeGameData(payload)
	case ChildGameDataTo:
		return decodeGameDataTo(payload)
	case ChildJoinedGame:
		return decodeJoinedGame(payload)
	case ChildJoinError:
		return decodeJoinError(payload)
	case ChildGameList:
		return decodeGameList(payload)
	default:
		return nil, fmt.Errorf("%w: child tag 0x%02x", ErrUnknownRootTag, tag)
	}
}

// EncodeChild is the inverse of DecodeChild, used by the relay when it
// re-wraps a decoded child for broadcast.
func EncodeChild(tag uint8, body any) HazelMessage {
	type encoder interface{ Encode() []byte }
	e, ok := body.(encoder)
	if !ok {
		panic(fmt.Sprintf("wire: child type %T has no Encode method", body))
	}
	return HazelMessage{Tag: tag, Payload: e.Encode()}
}
