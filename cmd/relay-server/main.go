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

	"chat-relay/history"
	"chat-relay/relay"
)

// Config defines the server-side environment variables.
type Config struct {
	ListenAddr    string `env:"LISTEN_ADDR,default=:7770"`
	HistoryDir    string `env:"HISTORY_DIR,default=./server_history"`
	MaxFrameBytes int    `env:"MAX_FRAME_BYTES,default=1048576"`
	SendBuffer    int    `env:"SEND_BUFFER,default=64"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and blocks until a termination signal.
// Keeping the logic out of main ensures defers execute before exit.
func run() error {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := newLogger(config.LogLevel)

	store, err := history.NewStore(config.HistoryDir, log)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}

	server := relay.NewServer(relay.Config{
		Addr:          config.ListenAddr,
		MaxFrameBytes: config.MaxFrameBytes,
		SendBuffer:    config.SendBuffer,
	}, store, log, relay.Hooks{
		ClientConnected: func(username string) {
			log.Info("connected", "username", username)
		},
		ClientDisconnected: func(username string) {
			log.Info("disconnected", "username", username)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go console(server.Router(), log)

	<-ctx.Done()
	log.Info("shutting down gracefully...")
	server.Stop()
	return nil
}

// console is the admin surface: a line-oriented stand-in for the server GUI.
func console(router *relay.Router, log *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "list":
			fmt.Println(strings.Join(router.Usernames(), ", "))
		case "broadcast":
			router.Broadcast(strings.Join(fields[1:], " "))
		case "alert":
			router.Alert(strings.Join(fields[1:], " "))
		case "kick":
			if len(fields) < 2 {
				fmt.Println("usage: kick <username> [reason]")
				continue
			}
			reason := "Kicked by server"
			if len(fields) > 2 {
				reason = strings.Join(fields[2:], " ")
			}
			router.Kick(fields[1], reason)
		default:
			log.Warn("unknown command", "command", fields[0])
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
