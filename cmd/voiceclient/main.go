package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/config"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/httpserver"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/session"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	sess := session.New(cfg, session.Events{
		OnMessage: func(e session.MessageEntry) {
			if e.Content == "" {
				return
			}
			speaker := e.Speaker
			if speaker == "" {
				speaker = "agent"
			}
			fmt.Printf("[%s] %s\n", speaker, e.Content)
		},
	})
	defer sess.Close()

	srv := httpserver.New(sess)
	go func() {
		log.Printf("debug server listening on %s", cfg.DebugHTTPAddress)
		if err := srv.Start(cfg.DebugHTTPAddress); err != nil {
			log.Printf("debug server stopped: %v", err)
		}
	}()

	if err := sess.StartTalking(); err != nil {
		log.Printf("start talking: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("shutdown signal received: %v", sig)
		sess.Close()
		os.Exit(0)
	}()

	fmt.Println("commands: t <text> | mute | unmute | call <number> | hangup | q")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch {
		case input == "q":
			return
		case strings.HasPrefix(input, "t "):
			sess.SendText(strings.TrimPrefix(input, "t "))
		case input == "mute":
			sess.SetMuted(true)
		case input == "unmute":
			sess.SetMuted(false)
		case strings.HasPrefix(input, "call "):
			number := strings.TrimSpace(strings.TrimPrefix(input, "call "))
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := sess.PlaceCall(ctx, number); err != nil {
				fmt.Printf("call failed: %v\n", err)
			}
			cancel()
		case input == "hangup":
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := sess.HangUp(ctx, "user_hangup"); err != nil {
				fmt.Printf("hangup failed: %v\n", err)
			}
			cancel()
		default:
			fmt.Println("commands: t <text> | mute | unmute | call <number> | hangup | q")
		}
	}
}
