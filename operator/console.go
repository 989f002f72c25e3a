// Package operator implements the line-oriented operator console (§6): a
// small set of administrative commands run against the live connection and
// room registries, each returning output text and a process-style exit code
// rather than writing to a socket directly, so the same command set serves
// both an interactive console and scripted callers.
package operator

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mitchellh/go-wordwrap"

	"github.com/nullspace-labs/lobby-relay/chatcmd"
	"github.com/nullspace-labs/lobby-relay/modpolicy"
	"github.com/nullspace-labs/lobby-relay/state"
)

// Exit codes returned by Console.Run (§6).
const (
	ExitOK = iota
	ExitUsage
	ExitNotFound
)

// wrapWidth is the terminal width operator list output is wrapped to.
const wrapWidth = 100

// Disconnection is one connection the console wants torn down, with the
// reason to send it.
type Disconnection struct {
	Conn   *state.Connection
	Reason string
}

// Broadcast is a plain-text chat broadcast the console wants sent, either to
// one room (Code != 0) or to every connection.
type Broadcast struct {
	Code int32
	Text string
}

// Result is everything a console command produced: text for the operator,
// an exit code, and any side effects (disconnects, a broadcast) for the
// caller to carry out, since the console package itself does no network I/O.
type Result struct {
	Output        string
	ExitCode      int
	Disconnects   []Disconnection
	Broadcast     *Broadcast
}

// Console implements the operator command set against live registries and
// the server's plugin catalog.
type Console struct {
	conns   *state.ConnectionRegistry
	rooms   *state.RoomRegistry
	plugins []modpolicy.ServerPlugin

	// loadHandles assigns each loaded plugin a unique correlation id, so an
	// operator distinguishes two successive loads of the same plugin id
	// (e.g. after an unload/reload cycle) in logs and in `list plugins`.
	loadHandles map[string]string
}

// NewConsole constructs a Console bound to the server's live state.
func NewConsole(conns *state.ConnectionRegistry, rooms *state.RoomRegistry, plugins []modpolicy.ServerPlugin) *Console {
	return &Console{conns: conns, rooms: rooms, plugins: plugins, loadHandles: make(map[string]string)}
}

// Run tokenizes and executes one operator command line (§6). Tokenizing
// reuses chatcmd.Tokenize's single-quote rule, since an operator's free-text
// reason/broadcast arguments need the same quoting the chat dispatcher
// already supports.
func (c *Console) Run(line string) Result {
	tokens := chatcmd.Tokenize(line)
	if len(tokens) == 0 {
		return Result{Output: "no command", ExitCode: ExitUsage}
	}
	cmd, rest := tokens[0], tokens[1:]
	switch cmd {
	case "dc":
		return c.dc(rest)
	case "destroy":
		return c.destroy(rest)
	case "load":
		return c.load(rest)
	case "unload":
		return c.unload(rest)
	case "list":
		return c.list(rest)
	case "broadcast":
		return c.broadcast(rest)
	case "mem":
		return c.mem()
	default:
		return Result{Output: fmt.Sprintf("unknown command: %s", cmd), ExitCode: ExitUsage}
	}
}

func parseFlags(tokens []string) (positional []string, flags map[string]string) {
	flags = make(map[string]string)
	for _, t := range tokens {
		if !strings.HasPrefix(t, "--") {
			positional = append(positional, t)
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(t, "--"), "=", 2)
		if len(kv) == 2 {
			flags[kv[0]] = kv[1]
		} else {
			flags[kv[0]] = "true"
		}
	}
	return positional, flags
}

// dc disconnects every connection matching one of --clientid, --username,
// --address, or --room, optionally banning its address from the room that
// connection is in with --ban and reporting --reason to the client (§6). A bare --ban bans
// permanently; the console tracks no expiry, since nothing else in the core
// needs timed bans yet.
func (c *Console) dc(tokens []string) Result {
	_, flags := parseFlags(tokens)
	reason := flags["reason"]
	if reason == "" {
		reason = "Disconnected by operator"
	}

	var matches []*state.Connection
	for _, conn := range c.conns.All() {
		switch {
		case flags["clientid"] != "":
			if id, err := strconv.ParseUint(flags["clientid"], 10, 32); err == nil && conn.ClientID == uint32(id) {
				matches = append(matches, conn)
			}
		case flags["username"] != "":
			if conn.Username == flags["username"] {
				matches = append(matches, conn)
			}
		case flags["address"] != "":
			if conn.RemoteAddr.String() == flags["address"] {
				matches = append(matches, conn)
			}
		case flags["room"] != "":
			if code, err := strconv.ParseInt(flags["room"], 10, 32); err == nil && conn.Room != nil && conn.Room.Code == int32(code) {
				matches = append(matches, conn)
			}
		}
	}
	if len(matches) == 0 {
		return Result{Output: "no matching connections", ExitCode: ExitNotFound}
	}

	var discs []Disconnection
	for _, conn := range matches {
		if _, ok := flags["ban"]; ok && conn.Room != nil {
			conn.Room.Ban(conn.RemoteAddr.Addr())
		}
		discs = append(discs, Disconnection{Conn: conn, Reason: reason})
	}
	return Result{Output: fmt.Sprintf("disconnected %d connection(s)", len(discs)), ExitCode: ExitOK, Disconnects: discs}
}

// destroy removes a room by code and disconnects its remaining members
// (§6).
func (c *Console) destroy(tokens []string) Result {
	positional, flags := parseFlags(tokens)
	if len(positional) != 1 {
		return Result{Output: "usage: destroy <code> [--reason=text]", ExitCode: ExitUsage}
	}
	code, err := strconv.ParseInt(positional[0], 10, 32)
	if err != nil {
		return Result{Output: "invalid room code", ExitCode: ExitUsage}
	}
	room, ok := c.rooms.Get(int32(code))
	if !ok {
		return Result{Output: "room not found", ExitCode: ExitNotFound}
	}
	reason := flags["reason"]
	if reason == "" {
		reason = "Room destroyed by operator"
	}
	var discs []Disconnection
	for _, member := range room.Members {
		discs = append(discs, Disconnection{Conn: member, Reason: reason})
	}
	c.rooms.Destroy(room.Code)
	return Result{Output: fmt.Sprintf("destroyed room %d", code), ExitCode: ExitOK, Disconnects: discs}
}

// load registers a plugin by file path in the console's own plugin list,
// the one `list plugins` shows (§6). The catalog that the handshake sends to
// modded clients is a separate list and is not changed by load. It does not
// dynamically load Go code: the plugin's actual behavior still has to be
// compiled in, the way this core's own services are.
func (c *Console) load(tokens []string) Result {
	positional, _ := parseFlags(tokens)
	if len(positional) != 1 {
		return Result{Output: "usage: load <path>", ExitCode: ExitUsage}
	}
	id := filepath.Base(positional[0])
	for _, p := range c.plugins {
		if p.ID == id {
			return Result{Output: fmt.Sprintf("plugin already loaded: %s", id), ExitCode: ExitUsage}
		}
	}
	c.plugins = append(c.plugins, modpolicy.ServerPlugin{ID: id, Version: "unknown"})
	handle := uuid.New().String()
	c.loadHandles[id] = handle
	return Result{Output: fmt.Sprintf("loaded plugin: %s (handle %s)", id, handle), ExitCode: ExitOK}
}

func (c *Console) unload(tokens []string) Result {
	positional, _ := parseFlags(tokens)
	if len(positional) != 1 {
		return Result{Output: "usage: unload <plugin-id>", ExitCode: ExitUsage}
	}
	id := positional[0]
	for i, p := range c.plugins {
		if p.ID == id {
			c.plugins = append(c.plugins[:i], c.plugins[i+1:]...)
			delete(c.loadHandles, id)
			return Result{Output: fmt.Sprintf("unloaded plugin: %s", id), ExitCode: ExitOK}
		}
	}
	return Result{Output: fmt.Sprintf("plugin not loaded: %s", id), ExitCode: ExitNotFound}
}

// list renders one of clients, rooms, plugins, mods <clientid>, players
// <code>, or pov <code>, word-wrapped to the operator terminal width (§6).
func (c *Console) list(tokens []string) Result {
	if len(tokens) == 0 {
		return Result{Output: "usage: list clients|rooms|plugins|mods <id>|players <code>|pov <code>", ExitCode: ExitUsage}
	}
	switch tokens[0] {
	case "clients":
		return c.listClients()
	case "rooms":
		return c.listRooms()
	case "plugins":
		return c.listPlugins()
	case "mods":
		return c.listMods(tokens[1:])
	case "players":
		return c.listPlayers(tokens[1:])
	case "pov":
		return c.listPOV(tokens[1:])
	default:
		return Result{Output: fmt.Sprintf("unknown list target: %s", tokens[0]), ExitCode: ExitUsage}
	}
}

func (c *Console) listClients() Result {
	conns := c.conns.All()
	sort.Slice(conns, func(i, j int) bool { return conns[i].ClientID < conns[j].ClientID })
	var lines []string
	for _, conn := range conns {
		room := "-"
		if conn.Room != nil {
			room = fmt.Sprintf("%d", conn.Room.Code)
		}
		lines = append(lines, fmt.Sprintf("%d  %s  %s  room=%s", conn.ClientID, conn.Username, conn.RemoteAddr, room))
	}
	return wrapped(lines)
}

func (c *Console) listRooms() Result {
	rooms := c.rooms.All()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })
	var lines []string
	for _, rm := range rooms {
		lines = append(lines, fmt.Sprintf("%d  members=%d  host=%d  state=%d", rm.Code, len(rm.Members), rm.HostID, rm.State))
	}
	return wrapped(lines)
}

func (c *Console) listPlugins() Result {
	var lines []string
	for _, p := range c.plugins {
		lines = append(lines, fmt.Sprintf("%s  v%s  handle=%s", p.ID, p.Version, c.loadHandles[p.ID]))
	}
	return wrapped(lines)
}

func (c *Console) listMods(tokens []string) Result {
	if len(tokens) != 1 {
		return Result{Output: "usage: list mods <clientid>", ExitCode: ExitUsage}
	}
	id, err := strconv.ParseUint(tokens[0], 10, 32)
	if err != nil {
		return Result{Output: "invalid clientid", ExitCode: ExitUsage}
	}
	conn, ok := lookupByID(c.conns, uint32(id))
	if !ok {
		return Result{Output: "client not found", ExitCode: ExitNotFound}
	}
	var lines []string
	for _, m := range conn.ModsByID {
		lines = append(lines, fmt.Sprintf("%s  v%s  side=%d", m.ModID, m.Version, m.Side))
	}
	return wrapped(lines)
}

func (c *Console) listPlayers(tokens []string) Result {
	if len(tokens) != 1 {
		return Result{Output: "usage: list players <code>", ExitCode: ExitUsage}
	}
	code, err := strconv.ParseInt(tokens[0], 10, 32)
	if err != nil {
		return Result{Output: "invalid room code", ExitCode: ExitUsage}
	}
	room, ok := c.rooms.Get(int32(code))
	if !ok {
		return Result{Output: "room not found", ExitCode: ExitNotFound}
	}
	var lines []string
	for _, id := range room.MemberIDs() {
		marker := ""
		if room.IsHost(id) {
			marker = " (host)"
		}
		lines = append(lines, fmt.Sprintf("%d%s", id, marker))
	}
	return wrapped(lines)
}

func (c *Console) listPOV(tokens []string) Result {
	if len(tokens) != 1 {
		return Result{Output: "usage: list pov <code>", ExitCode: ExitUsage}
	}
	code, err := strconv.ParseInt(tokens[0], 10, 32)
	if err != nil {
		return Result{Output: "invalid room code", ExitCode: ExitUsage}
	}
	room, ok := c.rooms.Get(int32(code))
	if !ok {
		return Result{Output: "room not found", ExitCode: ExitNotFound}
	}
	if len(room.Perspectives) == 0 {
		return Result{Output: "no active perspectives", ExitCode: ExitOK}
	}
	var lines []string
	for i, p := range room.Perspectives {
		ids := make([]string, 0, len(p.Members))
		for id := range p.Members {
			ids = append(ids, fmt.Sprintf("%d", id))
		}
		lines = append(lines, fmt.Sprintf("perspective %d: %s", i, strings.Join(ids, ",")))
	}
	return wrapped(lines)
}

// broadcast sends plain text to every member of a room (--room) or to every
// connected client (§6).
func (c *Console) broadcast(tokens []string) Result {
	positional, flags := parseFlags(tokens)
	if len(positional) == 0 {
		return Result{Output: "usage: broadcast <text> [--room=code]", ExitCode: ExitUsage}
	}
	text := strings.Join(positional, " ")
	var code int32
	if roomFlag := flags["room"]; roomFlag != "" {
		parsed, err := strconv.ParseInt(roomFlag, 10, 32)
		if err != nil {
			return Result{Output: "invalid room code", ExitCode: ExitUsage}
		}
		code = int32(parsed)
		if _, ok := c.rooms.Get(code); !ok {
			return Result{Output: "room not found", ExitCode: ExitNotFound}
		}
	}
	return Result{Output: "broadcast queued", ExitCode: ExitOK, Broadcast: &Broadcast{Code: code, Text: text}}
}

// mem reports current heap usage in human-readable form (§6).
func (c *Console) mem() Result {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	out := fmt.Sprintf("alloc=%s  sys=%s  numGC=%d", humanize.Bytes(m.Alloc), humanize.Bytes(m.Sys), m.NumGC)
	return Result{Output: out, ExitCode: ExitOK}
}

func wrapped(lines []string) Result {
	if len(lines) == 0 {
		return Result{Output: "(none)", ExitCode: ExitOK}
	}
	return Result{Output: wordwrap.WrapString(strings.Join(lines, "\n"), wrapWidth), ExitCode: ExitOK}
}

func lookupByID(reg *state.ConnectionRegistry, id uint32) (*state.Connection, bool) {
	for _, conn := range reg.All() {
		if conn.ClientID == id {
			return conn, true
		}
	}
	return nil, false
}
