package relay

import (
	"strings"

	"github.com/nullspace-labs/lobby-relay/chatcmd"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

// SetChatDispatcher wires a chat command dispatcher into the relay. Until
// set, chat Rpc children pass through untouched — the dispatcher is only
// active when rooms.chatCommands is enabled (§4.7).
func (s *Service) SetChatDispatcher(d *chatcmd.Dispatcher) {
	s.chat = d
}

// HandleGameData routes a GameData's children through the chat command
// intercept and the three-step perspective pipeline, and rebroadcasts
// whatever survives to the rest of the room, to every other perspective,
// and to the sender's own perspective surface (§4.1, §4.6, §4.7).
func (s *Service) HandleGameData(sender *state.Connection, room *state.Room, body wire.GameData) Outcome {
	rest, replies := s.interceptChatCommands(sender, room, body.Children)

	var p *state.Perspective
	if !s.cfg.OptimizationsDisablePerspectives {
		p = room.PerspectiveOf(sender.ClientID)
	}
	phaseOne, phaseTwo := s.filterThroughPerspective(p, rest)

	var deliveries []Delivery
	if len(phaseTwo) > 0 {
		deliveries = append(deliveries, Delivery{
			Room:       room,
			Exclude:    baseRoomExclude(room, sender.ClientID, s.cfg.OptimizationsDisablePerspectives),
			Messages:   []Message{{Tag: wire.ChildGameData, Body: wire.GameData{Code: room.Code, Children: phaseTwo}}},
			Unreliable: isUnreliableGameData(phaseTwo),
		})
		if !s.cfg.OptimizationsDisablePerspectives {
			deliveries = append(deliveries, broadcastToPerspectives(room, sender.ClientID, p, phaseTwo)...)
		}
	}
	if p != nil && len(phaseOne) > 0 {
		if recipients := perspectiveRecipients(room, p, sender.ClientID); len(recipients) > 0 {
			deliveries = append(deliveries, Delivery{
				To:         recipients,
				Messages:   []Message{{Tag: wire.ChildGameData, Body: wire.GameData{Code: room.Code, Children: phaseOne}}},
				Unreliable: isUnreliableGameData(phaseOne),
			})
		}
	}
	if len(replies) > 0 {
		deliveries = append(deliveries, Delivery{To: []*state.Connection{sender}, Messages: replies})
	}
	return Outcome{Deliveries: deliveries}
}

// baseRoomExclude builds the exclude set for the base-room broadcast: the
// sender plus, unless the perspective feature is disabled, every member
// currently inside any perspective, since those players are delivered to
// via their perspective's surface instead of directly (§3 "Perspective").
func baseRoomExclude(room *state.Room, senderID uint32, perspectivesDisabled bool) map[uint32]struct{} {
	ex := exclude(senderID)
	if perspectivesDisabled {
		return ex
	}
	for _, p := range room.Perspectives {
		for id := range p.Members {
			ex[id] = struct{}{}
		}
	}
	return ex
}

// broadcastToPerspectives delivers children to every perspective other than
// except, addressed to that perspective's own members (§4.6 step 2,
// `broadcastToPerspectives`).
func broadcastToPerspectives(room *state.Room, senderID uint32, except *state.Perspective, children []wire.HazelMessage) []Delivery {
	var out []Delivery
	for _, p := range room.Perspectives {
		if p == except {
			continue
		}
		recipients := perspectiveRecipients(room, p, senderID)
		if len(recipients) == 0 {
			continue
		}
		out = append(out, Delivery{
			To:         recipients,
			Messages:   []Message{{Tag: wire.ChildGameData, Body: wire.GameData{Code: room.Code, Children: children}}},
			Unreliable: isUnreliableGameData(children),
		})
	}
	return out
}

// perspectiveRecipients resolves a perspective's member ids to live
// connections still present in room, excluding excludeID.
func perspectiveRecipients(room *state.Room, p *state.Perspective, excludeID uint32) []*state.Connection {
	recipients := make([]*state.Connection, 0, len(p.Members))
	for id := range p.Members {
		if id == excludeID {
			continue
		}
		if conn, ok := room.Members[id]; ok {
			recipients = append(recipients, conn)
		}
	}
	return recipients
}

// interceptChatCommands scans children for a chat Rpc whose text begins
// with "/"; such an Rpc is canceled (dropped from the room broadcast
// entirely, never just filtered) and dispatched to the chat command table
// instead. Every other child passes through (§4.7).
func (s *Service) interceptChatCommands(sender *state.Connection, room *state.Room, children []wire.HazelMessage) (rest []wire.HazelMessage, replies []Message) {
	if s.chat == nil {
		return children, nil
	}
	rest = make([]wire.HazelMessage, 0, len(children))
	for _, child := range children {
		if child.Tag == wire.GameDataRpc {
			if rpc, ok := wire.DecodeGameDataChild(child.Tag, child.Payload).(wire.Rpc); ok {
				if text, _, ok := wire.DecodeChatText(rpc); ok && strings.HasPrefix(text, "/") {
					ctx := &chatcmd.Context{Room: room, Player: sender, Original: text}
					lines, err := s.chat.Dispatch(ctx, text)
					if err != nil {
						s.logger.Error("chat command failed", "client_id", sender.ClientID, "err", err)
					}
					for _, line := range lines {
						replyRpc := wire.EncodeChatRpc(sender.ClientID, line, wire.ChatSideLeft)
						replies = append(replies, Message{
							Tag:  wire.ChildGameData,
							Body: wire.GameData{Code: room.Code, Children: []wire.HazelMessage{wire.EncodeGameDataChild(wire.GameDataRpc, replyRpc)}},
						})
					}
					continue
				}
			}
		}
		rest = append(rest, child)
	}
	return rest, replies
}

// HandleGameDataTo routes a GameDataTo's children through the sender's
// perspective and, if anything survives, forwards it to the single named
// recipient only (§4.6).
func (s *Service) HandleGameDataTo(sender *state.Connection, room *state.Room, body wire.GameDataTo) Outcome {
	recipient, ok := room.Members[body.RecipientID]
	if !ok {
		return Outcome{}
	}
	var p *state.Perspective
	if !s.cfg.OptimizationsDisablePerspectives {
		p = room.PerspectiveOf(sender.ClientID)
	}
	_, children := s.filterThroughPerspective(p, body.Children)
	if len(children) == 0 {
		return Outcome{}
	}
	return Outcome{Deliveries: []Delivery{{
		To:         []*state.Connection{recipient},
		Messages:   []Message{{Tag: wire.ChildGameData, Body: wire.GameData{Code: room.Code, Children: children}}},
		Unreliable: isUnreliableGameData(children),
	}}}
}

// filterThroughPerspective first drops every child whose tag is outside the
// game-data catalog, unless socket.acceptUnknownGameData is set, and then
// implements phases 1 and 2 of the perspective pipeline (§4.6, §9 design
// note). Phase 1 decodes each child and offers it to p's DecodeHook, which
// may cancel it outright (dropped from the base room, every perspective, and
// p's own surface, since step 3 of HandleGameData delivers only the phase-1
// survivors). Phase 2 offers every child that survived
// phase 1 to OutgoingFilter, which decides whether it may additionally cross
// back out to the base room and other perspectives. The two phases are
// independent passes over independent slices: a cancellation in phase 1
// never taints the filter decision a later, unrelated child receives in
// phase 2, and vice versa. p == nil (no active perspective, or the
// perspective feature is disabled) makes both phases a no-op passthrough.
func (s *Service) filterThroughPerspective(p *state.Perspective, children []wire.HazelMessage) (phaseOne, phaseTwo []wire.HazelMessage) {
	if !s.cfg.SocketAcceptUnknownGameData {
		known := make([]wire.HazelMessage, 0, len(children))
		for _, child := range children {
			switch child.Tag {
			case wire.GameDataRpc, wire.GameDataData, wire.GameDataSpawn, wire.GameDataDespawn,
				wire.GameDataSceneChange, wire.GameDataReadyUp, wire.GameDataClientInfo:
				known = append(known, child)
			}
		}
		children = known
	}
	if p == nil {
		return children, children
	}

	phaseOne = make([]wire.HazelMessage, 0, len(children))
	for _, child := range children {
		body := wire.DecodeGameDataChild(child.Tag, child.Payload)
		canceled := false
		if p.DecodeHook != nil {
			canceled = p.DecodeHook(child.Tag, body)
		}
		if !canceled {
			phaseOne = append(phaseOne, child)
		}
	}

	if p.OutgoingFilter == nil {
		return phaseOne, phaseOne
	}
	phaseTwo = make([]wire.HazelMessage, 0, len(phaseOne))
	for _, child := range phaseOne {
		body := wire.DecodeGameDataChild(child.Tag, child.Payload)
		if p.OutgoingFilter(child.Tag, body) {
			phaseTwo = append(phaseTwo, child)
		}
	}
	return phaseOne, phaseTwo
}

// isUnreliableGameData reports whether a GameData/GameDataTo's children
// qualify for unreliable delivery: exactly one child, which decodes to a
// Data message for the CustomNetworkTransform net-object class (§4.6).
func isUnreliableGameData(children []wire.HazelMessage) bool {
	if len(children) != 1 {
		return false
	}
	body := wire.DecodeGameDataChild(children[0].Tag, children[0].Payload)
	d, ok := body.(wire.Data)
	return ok && d.NetRole == wire.NetObjectCustomNetworkTransform
}
