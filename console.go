package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"lanchat/models"
)

// chatSession is the part of session.Session the console drives.
type chatSession interface {
	GetMyInfo() (id, name string)
	SetMyName(name string)
	GetPeers() []models.Peer
	GetMessages(peerID string) []models.Message
	SendMessage(ctx context.Context, toID, content string) (models.Message, error)
	SendFile(ctx context.Context, toID, filePath string) (models.Message, error)
}

const helpText = `Commands:
  /peers                  list peers seen in the last 30 seconds
  /msg <peer-id> <text>   send a text message
  /file <peer-id> <path>  send a file
  /history <peer-id>      show the conversation with a peer
  /name <new-name>        change your display name
  /me                     show your id and name
  /quit                   exit
`

// console serialises writes from command handling and session callbacks.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *console) printReceived(msg models.Message) {
	c.printf("%s\n", formatMessage(msg))
}

func (c *console) printSent(msg models.Message) {
	c.printf("%s\n", formatMessage(msg))
}

func (c *console) printNotification(n models.Notification) {
	c.printf("* %s: %s\n", n.Title, n.Body)
}

func (c *console) printPeer(peer models.Peer) {
	c.printf("+ peer %s (%s) at %s\n", peer.Name, peer.ID, peer.Addr())
}

func formatMessage(msg models.Message) string {
	stamp := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	if msg.IsFile && msg.FileName != nil {
		return fmt.Sprintf("[%s] %s: [file] %s", stamp, msg.FromName, *msg.FileName)
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, msg.FromName, msg.Content)
}

// runCommands reads lines until EOF, /quit or ctx cancellation. It reports
// whether the user asked to quit.
func runCommands(ctx context.Context, scanner *bufio.Scanner, sess chatSession, out *console) bool {
	for scanner.Scan() {
		if ctx.Err() != nil {
			return false
		}
		if quit := execute(ctx, strings.TrimSpace(scanner.Text()), sess, out); quit {
			return true
		}
	}
	return false
}

// execute runs one command line and reports whether the user asked to quit.
func execute(ctx context.Context, line string, sess chatSession, out *console) bool {
	if line == "" {
		return false
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		out.printf("%s", helpText)
	case "/me":
		id, name := sess.GetMyInfo()
		out.printf("%s (%s)\n", name, id)
	case "/name":
		if rest == "" {
			out.printf("usage: /name <new-name>\n")
			return false
		}
		sess.SetMyName(rest)
		_, name := sess.GetMyInfo()
		out.printf("display name is now %s\n", name)
	case "/peers":
		peers := sess.GetPeers()
		if len(peers) == 0 {
			out.printf("no peers online\n")
			return false
		}
		for _, peer := range peers {
			out.printf("%s  %s  %s\n", peer.ID, peer.Name, peer.Addr())
		}
	case "/history":
		if rest == "" {
			out.printf("usage: /history <peer-id>\n")
			return false
		}
		for _, msg := range sess.GetMessages(rest) {
			out.printf("%s\n", formatMessage(msg))
		}
	case "/msg", "/file":
		target, arg, _ := strings.Cut(rest, " ")
		arg = strings.TrimSpace(arg)
		if target == "" || arg == "" {
			usage := "text"
			if command == "/file" {
				usage = "path"
			}
			out.printf("usage: %s <peer-id> <%s>\n", command, usage)
			return false
		}
		var err error
		if command == "/msg" {
			_, err = sess.SendMessage(ctx, target, arg)
		} else {
			_, err = sess.SendFile(ctx, target, arg)
		}
		if err != nil {
			out.printf("error: %v\n", err)
		}
	default:
		out.printf("unknown command %q, try /help\n", command)
	}
	return false
}
