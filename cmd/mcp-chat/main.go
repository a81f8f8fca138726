// ABOUTME: Interactive chat client for an mcp-gateway server
// ABOUTME: Authenticates one session and reads messages from stdin until /quit

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/client"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/logging"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
)

// Build information, set via ldflags.
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "mcp-chat",
		Usage:   "Chat with an mcp-gateway server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "gateway gRPC address",
				EnvVars: []string{"MCP_SERVER"},
				Value:   "localhost:8001",
			},
			&cli.StringFlag{
				Name:    "identity",
				Aliases: []string{"i"},
				Usage:   "identity to authenticate as",
				EnvVars: []string{"MCP_IDENTITY"},
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "secret for the identity",
				EnvVars: []string{"MCP_SECRET"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "authenticate with an issued token instead of a secret",
				EnvVars: []string{"MCP_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "conversation",
				Aliases: []string{"c"},
				Usage:   "resume an existing conversation",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "client log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Action: chatAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func chatAction(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(c.String("log-level"))

	cl, err := client.Dial(c.String("server"), client.Config{
		Identity:       c.String("identity"),
		Secret:         c.String("secret"),
		Token:          c.String("token"),
		ConversationID: c.String("conversation"),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer cl.Release()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	err = cl.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.String("server"), err)
	}

	r := &repl{client: cl, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	r.greet(c.String("server"))
	return r.run(ctx)
}

// repl reads lines, sends them as messages and prints replies.
type repl struct {
	client *client.Client
	in     *bufio.Reader
	out    io.Writer

	// pending context attached to the next message
	ctxValues map[string]any
}

var (
	gray   = color.New(color.FgHiBlack)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func (r *repl) greet(server string) {
	green.Fprintf(r.out, "Connected to %s", r.client.Server())
	gray.Fprintf(r.out, " (%s) as %s\n", server, r.client.Identity())
	gray.Fprintln(r.out, "Type a message, or /help for commands.")
}

func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := r.in.ReadString('\n')
			if line != "" || err == nil {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		cyan.Fprint(r.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			quit, err := r.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit" || line == "/exit":
		return true, nil
	case line == "/help":
		r.help()
	case line == "/history":
		r.history()
	case line == "/new":
		r.client.NewConversation()
		gray.Fprintln(r.out, "Next message starts a new conversation.")
	case line == "/whoami":
		fmt.Fprintf(r.out, "identity:     %s\n", r.client.Identity())
		fmt.Fprintf(r.out, "session:      %s\n", r.client.SessionID())
		fmt.Fprintf(r.out, "conversation: %s\n", valueOr(r.client.ConversationID(), "(none yet)"))
		fmt.Fprintf(r.out, "token until:  %s\n", r.client.ExpiresAt().Local().Format(time.DateTime))
	case strings.HasPrefix(line, "/context"):
		r.setContext(strings.TrimSpace(strings.TrimPrefix(line, "/context")))
	case strings.HasPrefix(line, "/"):
		yellow.Fprintf(r.out, "Unknown command %s, try /help\n", strings.Fields(line)[0])
	default:
		return false, r.send(ctx, line)
	}
	return false, nil
}

func (r *repl) help() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  /history           show this session's exchanges")
	fmt.Fprintln(r.out, "  /new               start a new conversation")
	fmt.Fprintln(r.out, "  /context key=value attach context to the next message")
	fmt.Fprintln(r.out, "  /whoami            show identity, session and conversation")
	fmt.Fprintln(r.out, "  /quit              leave")
}

func (r *repl) setContext(arg string) {
	key, value, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		yellow.Fprintln(r.out, "usage: /context key=value")
		return
	}
	if r.ctxValues == nil {
		r.ctxValues = make(map[string]any)
	}
	r.ctxValues[key] = strings.TrimSpace(value)
	gray.Fprintf(r.out, "Context %s set for the next message.\n", key)
}

func (r *repl) send(ctx context.Context, content string) error {
	mctx := r.ctxValues
	resp, err := r.client.SendMessage(ctx, content, mctx)
	switch {
	case err == nil:
		r.ctxValues = nil
		if resp.Payload.Message != nil {
			green.Fprint(r.out, "< ")
			fmt.Fprintln(r.out, resp.Payload.Message.Content)
		}
		return nil
	case errors.Is(err, client.ErrNotConnected):
		return err
	case errors.Is(err, context.Canceled):
		return nil
	}

	if resp.Payload.Error != nil && resp.Payload.Error.Code == protocol.CodeRateLimited {
		red.Fprintf(r.out, "Rate limited, retry in %.0fs\n", resp.Payload.Error.RetryAfterSeconds)
		return nil
	}
	red.Fprintf(r.out, "Error: %v\n", err)
	return nil
}

func (r *repl) history() {
	exchanges := r.client.History()
	if len(exchanges) == 0 {
		gray.Fprintln(r.out, "No messages yet.")
		return
	}
	conv := ""
	for _, ex := range exchanges {
		if ex.ConversationID != conv {
			conv = ex.ConversationID
			cyan.Fprintf(r.out, "# %s\n", conv)
		}
		gray.Fprintf(r.out, "%s ", ex.Request.Timestamp.Local().Format(time.TimeOnly))
		fmt.Fprintf(r.out, "> %s", ex.Request.Content)
		if len(ex.Request.Context) > 0 {
			gray.Fprintf(r.out, " %s", formatContext(ex.Request.Context))
		}
		fmt.Fprintln(r.out)
		gray.Fprintf(r.out, "%s ", ex.Response.Timestamp.Local().Format(time.TimeOnly))
		fmt.Fprintf(r.out, "< %s\n", ex.Response.Content)
	}
}

func formatContext(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func newLogger(level string) *slog.Logger {
	return logging.New(config.LoggingConfig{Level: level, Format: "text"}, os.Stderr)
}
