// hubclient connects to a hub, subscribes to event types, and relays
// chat lines typed on stdin.
// Usage: go run ./cmd/hubclient --url ws://localhost:8080/ws --subscribe chat.message
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ksawyer/wirehub/internal/client"
	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/router"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub websocket URL")
	subscribe := flag.String("subscribe", "", "comma-separated event types (empty = all)")
	channel := flag.String("channel", "general", "chat channel for stdin lines")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := client.DefaultConfig()
	cfg.URL = *url
	c := client.New(cfg, logger)

	c.OnStateChange(func(old, new client.State) {
		logger.Info("state change", "from", old, "to", new)
	})

	// Print delivered events.
	c.Table().Register(envelope.TypeEvent, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var ed envelope.EventData
		if err := json.Unmarshal(env.Data, &ed); err != nil {
			return err
		}
		fmt.Printf("[%s] %s %s\n", ed.Timestamp, ed.EventType, ed.Data)
		return nil
	}, 0)

	c.Table().Register(envelope.TypeError, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var ed envelope.ErrorData
		if err := json.Unmarshal(env.Data, &ed); err != nil {
			return err
		}
		logger.Warn("server error", "code", ed.Code, "message", ed.Message)
		return nil
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		c.Disconnect()
		cancel()
	}()

	if err := c.Connect(ctx); err != nil {
		logger.Error("connect failed, retrying in background", "error", err)
	}

	if *subscribe != "" {
		// Give the greeting a moment, then narrow the subscription.
		time.Sleep(200 * time.Millisecond)
		types := strings.Split(*subscribe, ",")
		if err := c.Subscribe(types); err != nil {
			logger.Error("subscribe failed", "error", err)
		}
	}

	// Relay stdin lines as chat messages.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := c.Send("chat.message", map[string]string{
			"channel": *channel,
			"body":    line,
		})
		if err != nil {
			logger.Error("send failed", "error", err)
		}
	}

	c.Disconnect()
}
