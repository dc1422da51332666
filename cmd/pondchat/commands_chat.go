package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/eleven-am/pondchat/broker"
	"github.com/eleven-am/pondchat/config"
	"github.com/eleven-am/pondchat/metrics"
	"github.com/eleven-am/pondchat/transport"
)

type chatOptions struct {
	room        string
	apiURL      string
	endpoint    string
	token       string
	tokenFile   string
	metricsAddr string
}

func buildChatCmd(global *globalOptions) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a chat room from the terminal",
		Long: `Join a chat room and print its messages and typing indicators.

Each line read from stdin is sent to the room. A line containing only
/typing toggles the typing indicator. The session reconnects on its own
after network failures; the command ends on EOF, SIGINT or SIGTERM.`,
		Example: `  # Join using a token from the environment
  PONDCHAT_TOKEN=... pondchat chat --room lobby

  # Connect to an explicit socket URL
  pondchat chat --room lobby --endpoint ws://localhost:8080/ws --token-file ~/.pondchat/token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			opts.apply(&cfg.Client)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg.Client, opts, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVarP(&opts.room, "room", "r", "", "Room to join")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "REST API base the socket URL is derived from")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Explicit socket URL (overrides --api-url)")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("PONDCHAT_TOKEN"), "Bearer token")
	cmd.Flags().StringVar(&opts.tokenFile, "token-file", "", "File holding the bearer token, re-read on every reconnect")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve transport metrics on this address")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func (o *chatOptions) apply(c *config.ClientConfig) {
	if o.apiURL != "" {
		c.APIURL = o.apiURL
		c.Endpoint = ""
	}
	if o.endpoint != "" {
		c.Endpoint = o.endpoint
	}
	if o.token != "" {
		c.Token = o.token
		c.TokenFile = ""
	}
	if o.tokenFile != "" {
		c.TokenFile = o.tokenFile
		c.Token = ""
	}
}

// runChat drives one chat session until input ends or ctx is cancelled.
func runChat(ctx context.Context, cfg config.ClientConfig, opts *chatOptions, in io.Reader, out io.Writer, logger *slog.Logger) error {
	room := strings.TrimSpace(opts.room)
	if room == "" {
		return errors.New("room is required")
	}

	socketURL, err := cfg.SocketURL()
	if err != nil {
		return err
	}
	tokens := cfg.TokenProvider()
	if tokens == nil {
		return errors.New("a token is required: use --token, --token-file or PONDCHAT_TOKEN")
	}

	var collector transport.MetricsCollector
	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		collector = metrics.NewClient(registry)
		go serveMetrics(ctx, opts.metricsAddr, registry, logger)
	}

	client, err := transport.NewWithConfig(socketURL, tokens, cfg.Transport(logger, collector))
	if err != nil {
		return err
	}
	defer client.Close()

	console := &console{out: out}
	client.OnEvent(console.event)
	client.Subscribe(transport.RoomDestination(room), console.message)
	client.Subscribe(transport.TypingDestination(room), console.typing)
	client.Activate("")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	typing := false
	for {
		select {
		case <-ctx.Done():
			client.Deactivate()
			return nil
		case line, ok := <-lines:
			if !ok {
				client.Deactivate()
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/typing":
				typing = !typing
				client.SendTyping(transport.TypingArgs{RoomID: room, IsTyping: typing})
			default:
				if !client.SendChatMessage(room, line) {
					console.printf("! not connected, message dropped\n")
				}
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := broker.Serve(ctx, broker.ServerOptions{ServerAddr: addr, ShutdownTimeout: 5 * time.Second}, mux); err != nil {
		logger.Error("metrics server failed", "addr", addr, "error", err)
	}
}

// console serializes terminal output from transport callbacks and the
// input loop.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *console) event(e transport.Event) {
	switch e.Kind {
	case transport.EventConnected:
		c.printf("* connected\n")
	case transport.EventDisconnected:
		c.printf("* disconnected, reconnecting\n")
	case transport.EventProtocolError:
		c.printf("! server error: %s\n", e.Message)
	case transport.EventConfigError:
		c.printf("! %v\n", e.Err)
	}
}

func (c *console) message(f transport.Frame) {
	var msg broker.ChatMessage
	if err := f.Decode(&msg); err != nil {
		c.printf("! unreadable message on %s: %v\n", f.Destination, err)
		return
	}
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	stamp := msg.SentAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	c.printf("[%s] %s: %s\n", stamp.Local().Format("15:04:05"), sender, msg.Content)
}

func (c *console) typing(f transport.Frame) {
	var event broker.TypingEvent
	if err := f.Decode(&event); err != nil {
		return
	}
	if event.IsTyping {
		c.printf("* %s is typing\n", event.UserID)
	} else {
		c.printf("* %s stopped typing\n", event.UserID)
	}
}
