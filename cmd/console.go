package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/adamgarcia4/goLearning/floodnet/admin"
	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

type commandKind int

const (
	cmdSendTo commandKind = iota + 1
	cmdSendToAll
	cmdSendToAdj
	cmdSendToN
	cmdSendToRandom
	cmdPoll
	cmdTopology
	cmdStats
	cmdHelp
	cmdExit
)

// command is one parsed console line. Arguments are separated by ';' and the
// text is always the last argument, so it may itself contain ';'.
type command struct {
	kind     commandKind
	peer     string
	text     string
	depth    int
	min, max int
}

const consoleHelp = `commands:
  /sendto;<peer>;<text>              send to one neighbor (ip or ip:port)
  /sendtoall;<text>                  flood to every reachable peer
  /sendtoadj;<text>                  send to all neighbors
  /sendton;<n>;<text>                deliver to peers n hops away
  /sendtorandom;<min>;<max>;<text>   deliver at a random depth in [min, max]
  /startpolling                      collect one vote per peer
  /topology                          discover the network's adjacency
  /stats                             message counters
  /help
  /exit`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, ";")

	argN := func(n int) ([]string, error) {
		args := strings.SplitN(rest, ";", n)
		if len(args) != n || args[n-1] == "" {
			return nil, fmt.Errorf("usage: %s needs %d arguments separated by ';'", name, n)
		}
		return args, nil
	}
	atoi := func(s string) (int, error) {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number", name, s)
		}
		return v, nil
	}

	switch name {
	case "/sendto":
		args, err := argN(2)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdSendTo, peer: strings.TrimSpace(args[0]), text: args[1]}, nil
	case "/sendtoall", "/sendtoadj":
		args, err := argN(1)
		if err != nil {
			return command{}, err
		}
		kind := cmdSendToAll
		if name == "/sendtoadj" {
			kind = cmdSendToAdj
		}
		return command{kind: kind, text: args[0]}, nil
	case "/sendton":
		args, err := argN(2)
		if err != nil {
			return command{}, err
		}
		depth, err := atoi(args[0])
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdSendToN, depth: depth, text: args[1]}, nil
	case "/sendtorandom":
		args, err := argN(3)
		if err != nil {
			return command{}, err
		}
		min, err := atoi(args[0])
		if err != nil {
			return command{}, err
		}
		max, err := atoi(args[1])
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdSendToRandom, min: min, max: max, text: args[2]}, nil
	case "/startpolling":
		return command{kind: cmdPoll}, nil
	case "/topology":
		return command{kind: cmdTopology}, nil
	case "/stats":
		return command{kind: cmdStats}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/exit":
		return command{kind: cmdExit}, nil
	default:
		return command{}, fmt.Errorf("'%s' is not recognized as a valid command", line)
	}
}

// consolePeer is what the console drives; *node.Node satisfies it.
type consolePeer interface {
	admin.Peer
	Neighbors() []flood.PeerID
}

// console reads commands from a line reader. Floods run in the background and
// their results are printed when they complete.
type console struct {
	peer consolePeer

	mu  sync.Mutex
	out io.Writer
	wg  sync.WaitGroup
}

func newConsole(peer consolePeer, out io.Writer) *console {
	return &console{peer: peer, out: out}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// run reads until /exit, EOF or ctx is done, then waits for running floods.
func (c *console) run(ctx context.Context, in io.Reader) error {
	defer c.wg.Wait()

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" || !strings.HasPrefix(line, "/") {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				c.printf("%v", err)
				continue
			}
			if cmd.kind == cmdExit {
				return nil
			}
			c.exec(ctx, cmd)
		}
	}
}

func (c *console) exec(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdHelp:
		c.printf("%s", consoleHelp)
		return
	case cmdStats:
		s := c.peer.Stats()
		c.printf("sent %d messages (%d forwards, %d callbacks, %d invalid), %d delivered, %d timeouts, %d active",
			s.MessagesSent, s.ForwardsSent, s.CallbacksSent, s.InvalidSent, s.Delivered, s.Timeouts, s.ActiveBroadcasts)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.printf("%s", c.runFlood(ctx, cmd))
	}()
}

// runFlood executes a flood command and renders its outcome.
func (c *console) runFlood(ctx context.Context, cmd command) string {
	var (
		res flood.Result
		err error
	)
	switch cmd.kind {
	case cmdSendTo:
		var target flood.PeerID
		target, err = resolvePeer(cmd.peer, c.peer.Neighbors())
		if err == nil {
			res, err = c.peer.SendDirect(ctx, target, c.peer.NewText(cmd.text))
		}
	case cmdSendToAll:
		res, err = c.peer.BroadcastToAll(ctx, c.peer.NewText(cmd.text))
	case cmdSendToAdj:
		res, err = c.peer.SendToNeighbors(ctx, c.peer.NewText(cmd.text))
	case cmdSendToN:
		res, err = c.peer.BroadcastToDepth(ctx, cmd.depth, c.peer.NewText(cmd.text))
	case cmdSendToRandom:
		res, err = c.peer.BroadcastToRandomDepth(ctx, cmd.min, cmd.max, c.peer.NewText(cmd.text))
	case cmdPoll:
		votes, err := c.peer.StartPoll(ctx)
		if err != nil {
			return "poll failed: " + err.Error()
		}
		return formatPoll(votes)
	case cmdTopology:
		adj, err := c.peer.DiscoverTopology(ctx)
		if err != nil {
			return "topology discovery failed: " + err.Error()
		}
		return formatTopology(adj)
	}
	if err != nil {
		return "send failed: " + err.Error()
	}
	return formatResult(res)
}

func formatResult(res flood.Result) string {
	out := fmt.Sprintf("broadcast %s done: %d/%d callbacks, %d invalid", res.ID, res.Received, res.Expected, res.Invalid)
	if res.Shed > 0 {
		out += fmt.Sprintf(", %d peers busy", res.Shed)
	}
	return out
}

// resolvePeer accepts a full peer id or a bare host that matches exactly one
// neighbor, since legacy configs name neighbors by ip.
func resolvePeer(s string, neighbors []flood.PeerID) (flood.PeerID, error) {
	if _, _, err := net.SplitHostPort(s); err == nil {
		return flood.PeerID(s), nil
	}
	var match []flood.PeerID
	for _, nb := range neighbors {
		if host, _, err := net.SplitHostPort(string(nb)); err == nil && host == s {
			match = append(match, nb)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s", flood.ErrUnknownPeer, s)
	default:
		return "", fmt.Errorf("%s matches %d neighbors, use ip:port", s, len(match))
	}
}

func formatPoll(votes map[flood.PeerID]bool) string {
	ids := make([]flood.PeerID, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString("FINAL POLL RESULTS\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "%s : %t\n", id, votes[id])
	}
	b.WriteString("__________________")
	return b.String()
}

func formatTopology(adj map[flood.PeerID][]flood.PeerID) string {
	ids := make([]flood.PeerID, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "%d peers", len(ids))
	for _, id := range ids {
		nbs := make([]string, len(adj[id]))
		for i, nb := range adj[id] {
			nbs[i] = string(nb)
		}
		fmt.Fprintf(&b, "\n  %s -> %s", id, strings.Join(nbs, ", "))
	}
	return b.String()
}
