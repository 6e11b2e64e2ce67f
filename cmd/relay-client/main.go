package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"

	"chat-relay/client"
	"chat-relay/history"
	"chat-relay/wire"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddr string `env:"SERVER_ADDR,default=localhost:7770"`
	Username   string `env:"USERNAME,required=true"`
	CacheDir   string `env:"CACHE_DIR"`
	LogLevel   string `env:"LOG_LEVEL,default=warn"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// printer renders server events to stdout. It is the line-oriented stand-in
// for the excluded GUI.
type printer struct {
	client.BaseHandler
}

func (p *printer) MessageReceived(m wire.Message) {
	switch m.Kind {
	case wire.ServerAlert:
		fmt.Printf("[SERVER ALERT] %s\n", m.Text)
	case wire.Broadcast:
		fmt.Printf("[SERVER] %s\n", m.Text)
	default:
		fmt.Printf("[%s] %s -> %s: %s\n", m.Timestamp.Format("15:04:05"), m.From, m.To, m.Text)
	}
}

func (p *printer) HistoryReceived(with string, messages []wire.Message) {
	fmt.Printf("--- history with %s (%d messages) ---\n", with, len(messages))
	for _, m := range messages {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.From, m.Text)
	}
}

func (p *printer) RosterUpdated(users []string) {
	fmt.Printf("online: %s\n", strings.Join(users, ", "))
}

func (p *printer) Kicked(reason string) {
	fmt.Printf("kicked from server: %s\n", reason)
}

func (p *printer) ErrorReceived(message string) {
	fmt.Printf("server error: %s\n", message)
}

func (p *printer) Disconnected() {
	fmt.Println("disconnected")
}

func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := newLogger(config.LogLevel)

	opts := []client.Option{client.WithLogger(log)}
	if config.CacheDir != "" {
		cache, err := history.NewStore(config.CacheDir, log)
		if err != nil {
			return exitConfig, fmt.Errorf("local cache: %w", err)
		}
		opts = append(opts, client.WithLocalCache(cache))
	}

	c := client.New(config.Username, &printer{}, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx, config.ServerAddr); err != nil {
		return exitRuntime, err
	}
	defer c.Close()

	fmt.Printf("connected to %s as %s\n", config.ServerAddr, config.Username)
	fmt.Println("commands: /msg <user> <text>, /history <user>, /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if done, err := handleCommand(c, line); err != nil {
				fmt.Printf("error: %v\n", err)
			} else if done {
				return exitOK, nil
			}
		}
	}
}

func handleCommand(c *client.Client, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "/msg":
		if len(fields) < 3 {
			fmt.Println("usage: /msg <user> <text>")
			return false, nil
		}
		return false, c.SendChat(fields[1], strings.Join(fields[2:], " "))
	case "/history":
		if len(fields) != 2 {
			fmt.Println("usage: /history <user>")
			return false, nil
		}
		return false, c.RequestHistory(fields[1])
	case "/quit":
		return true, nil
	default:
		fmt.Println("unknown command")
		return false, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
