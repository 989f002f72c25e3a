package chatcmd

import (
	"fmt"
	"strings"

	"github.com/nullspace-labs/lobby-relay/state"
)

// replyMarker prefixes every line the dispatcher sends back to the
// invoking player, distinguishing it in the room's chat feed from player
// speech (§4.7).
const replyMarker = "< "

// Context carries the per-invocation state a command handler needs: the
// room and player it was issued in/by, and the original chat line.
type Context struct {
	Room     *state.Room
	Player   *state.Connection
	Original string

	replies []string
}

// Reply queues a line to be sent back to the invoking player only, marked
// as a dispatcher reply.
func (c *Context) Reply(format string, args ...any) {
	c.replies = append(c.replies, replyMarker+fmt.Sprintf(format, args...))
}

// CallError is a handler-raised error meant to be shown to the invoking
// player verbatim, as opposed to an internal error that the dispatcher
// reports generically and returns to its caller for logging (§4.7, §7).
type CallError struct{ msg string }

func (e CallError) Error() string { return e.msg }

// NewCallError constructs a CallError.
func NewCallError(format string, args ...any) error {
	return CallError{msg: fmt.Sprintf(format, args...)}
}

// Dispatcher holds the registered command table and runs chat lines against
// it.
type Dispatcher struct {
	commands map[string]*Command
	order    []string
}

// NewDispatcher returns an empty Dispatcher. Register adds commands to it;
// RegisterHelp adds the built-in `help` command once the rest of the table
// is populated.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[string]*Command)}
}

// Register parses usage and adds a command to the table. It panics on a
// malformed usage string, since the command table is assembled once at
// startup from source literals, not runtime input.
func (d *Dispatcher) Register(usage, summary string, handler func(ctx *Context, args map[string]string) (string, error)) {
	name, params, err := ParseUsage(usage)
	if err != nil {
		panic(fmt.Sprintf("chatcmd: %s", err))
	}
	d.commands[name] = &Command{Name: name, Usage: usage, Summary: summary, Params: params, Handler: handler}
	d.order = append(d.order, name)
}

// RegisterHelp adds the built-in `help [command]` command, which lists
// every registered command's usage string, or just one if named.
func (d *Dispatcher) RegisterHelp() {
	d.Register("help [command]", "List available commands, or show one command's usage.", func(ctx *Context, args map[string]string) (string, error) {
		if name, ok := args["command"]; ok && name != "" {
			cmd, ok := d.commands[name]
			if !ok {
				return "", NewCallError("No command with name: %s", name)
			}
			return fmt.Sprintf("%s - %s", cmd.Usage, cmd.Summary), nil
		}
		var lines []string
		for _, name := range d.order {
			cmd := d.commands[name]
			lines = append(lines, fmt.Sprintf("%s - %s", cmd.Usage, cmd.Summary))
		}
		return strings.Join(lines, "\n"), nil
	})
}

// Dispatch tokenizes and runs one chat line, which must begin with "/". It
// never itself panics, and returns no reply line only when a handler
// succeeds with an empty result and queued no reply of its own: a
// lookup-miss, a missing required parameter, and a CallError all produce a
// user-facing reply rather than propagating as an error (§4.7, §7); only an
// unexpected internal error from a handler is reported generically, and
// logged by the caller via the returned error.
func (d *Dispatcher) Dispatch(ctx *Context, line string) ([]string, error) {
	tokens := Tokenize(strings.TrimPrefix(line, "/"))
	if len(tokens) == 0 {
		ctx.Reply("Empty command.")
		return ctx.replies, nil
	}

	cmd, ok := d.commands[tokens[0]]
	if !ok {
		ctx.Reply("No command with name: %s", tokens[0])
		return ctx.replies, nil
	}

	args, err := bindParams(cmd.Params, tokens[1:])
	if err != nil {
		ctx.Reply("Usage: %s - %s", cmd.Usage, cmd.Summary)
		return ctx.replies, nil
	}

	result, err := cmd.Handler(ctx, args)
	if err != nil {
		if ce, ok := err.(CallError); ok {
			ctx.Reply("%s", ce.msg)
			return ctx.replies, nil
		}
		ctx.Reply("Internal error running %s", cmd.Name)
		return ctx.replies, err
	}
	if result != "" {
		ctx.Reply("%s", result)
	}
	return ctx.replies, nil
}

// bindParams positionally binds tokens to params, honoring Required and
// Rest (§4.7).
func bindParams(params []Param, tokens []string) (map[string]string, error) {
	args := make(map[string]string, len(params))
	i := 0
	for _, p := range params {
		if p.Rest {
			if i >= len(tokens) {
				if p.Required {
					return nil, fmt.Errorf("missing required parameter %q", p.Name)
				}
				continue
			}
			args[p.Name] = strings.Join(tokens[i:], " ")
			i = len(tokens)
			continue
		}
		if i >= len(tokens) {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		args[p.Name] = tokens[i]
		i++
	}
	return args, nil
}
