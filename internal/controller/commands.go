package controller

import (
	"fmt"
	"strings"

	"github.com/darabo/gapmesh/internal/codec"
)

// HandleInput parses one line of user text input. A recognized "/..."
// command is executed and consumed (true); anything else is treated as
// chat text and sent with SendPublic (spec §6's command set — "parsing
// is in the Session Controller; semantics are UI-level and not further
// specified here", so each command below does the minimal useful thing
// rather than implementing a full channel/membership model the spec
// does not define).
func (c *Controller) HandleInput(line string) error {
	if !strings.HasPrefix(line, "/") {
		return c.SendPublic(line)
	}

	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/j":
		return c.cmdJoin(args)
	case "/m":
		return c.cmdMessage(args)
	case "/w":
		return c.cmdWho(args)
	case "/channels":
		return c.cmdChannels(args)
	case "/block":
		return c.cmdBlock(args, true)
	case "/unblock":
		return c.cmdBlock(args, false)
	case "/slap":
		return c.cmdAction(args, "slaps")
	case "/hug":
		return c.cmdAction(args, "hugs")
	case "/clear":
		c.emit(SystemEvent{Text: "clear"})
		return nil
	default:
		c.emit(SystemEvent{Text: fmt.Sprintf("unknown command: %s", cmd)})
		return nil
	}
}

// cmdJoin has no channel membership model to join into (spec names the
// command but defines no channel entity), so it only emits a local
// system notice naming the channel; nothing is sent on the mesh.
func (c *Controller) cmdJoin(args []string) error {
	if len(args) == 0 {
		c.emit(SystemEvent{Text: "usage: /j <channel>"})
		return nil
	}
	c.emit(SystemEvent{Text: fmt.Sprintf("joined %s", args[0])})
	return nil
}

func (c *Controller) cmdMessage(args []string) error {
	if len(args) < 2 {
		c.emit(SystemEvent{Text: "usage: /m <name> <text>"})
		return nil
	}
	peer, ok := c.findPeerByNickname(args[0])
	if !ok {
		c.emit(SystemEvent{Text: fmt.Sprintf("no such peer: %s", args[0])})
		return nil
	}
	c.SendPrivate(strings.Join(args[1:], " "), peer)
	return nil
}

func (c *Controller) cmdWho(args []string) error {
	c.mu.Lock()
	names := make([]string, 0, len(c.peers))
	for _, snap := range c.peers {
		if snap.nickname != "" {
			names = append(names, snap.nickname)
		}
	}
	c.mu.Unlock()
	c.emit(SystemEvent{Text: "online: " + strings.Join(names, ", ")})
	return nil
}

func (c *Controller) cmdChannels(args []string) error {
	c.emit(SystemEvent{Text: "channels: (mesh is a single flat broadcast domain)"})
	return nil
}

func (c *Controller) cmdBlock(args []string, block bool) error {
	if len(args) == 0 {
		c.emit(SystemEvent{Text: "usage: /block <name>"})
		return nil
	}
	peer, ok := c.findPeerByNickname(args[0])
	if !ok {
		c.emit(SystemEvent{Text: fmt.Sprintf("no such peer: %s", args[0])})
		return nil
	}
	c.mu.Lock()
	if snap, ok := c.peers[peer]; ok {
		snap.blocked = block
	}
	c.mu.Unlock()
	verb := "blocked"
	if !block {
		verb = "unblocked"
	}
	c.emit(SystemEvent{Text: fmt.Sprintf("%s %s", verb, args[0])})
	return nil
}

func (c *Controller) cmdAction(args []string, verb string) error {
	if len(args) == 0 {
		c.emit(SystemEvent{Text: fmt.Sprintf("usage: /%s <name>", verb[:len(verb)-1])})
		return nil
	}
	return c.SendPublic(fmt.Sprintf("* %s %s %s *", c.ownNickname(), verb, args[0]))
}

func (c *Controller) findPeerByNickname(nick string) (codec.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, snap := range c.peers {
		if strings.EqualFold(snap.nickname, nick) {
			return id, true
		}
	}
	return codec.PeerID{}, false
}
