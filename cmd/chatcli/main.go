// chatcli is a terminal client for market-chat.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"market-chat/internal/client"
	"market-chat/internal/models"
	"market-chat/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8083"
	}
	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "CHAT_TOKEN is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(baseURL, token)
	cmd := os.Args[1]

	switch cmd {
	case "list":
		convs, err := api.ListConversations(ctx)
		exitOnError(err)
		for _, s := range convs {
			fmt.Println(listLine(s))
		}

	case "start":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatcli start <user_id>")
			os.Exit(1)
		}
		id, err := api.StartConversation(ctx, os.Args[2])
		exitOnError(err)
		fmt.Println(id)

	case "unread":
		if len(os.Args) > 2 {
			n, err := api.UnreadCount(ctx, os.Args[2])
			exitOnError(err)
			fmt.Println(n)
			return
		}
		n, err := api.TotalUnread(ctx)
		exitOnError(err)
		fmt.Println(n)

	case "leave":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatcli leave <conversation_id>")
			os.Exit(1)
		}
		exitOnError(api.Leave(ctx, os.Args[2]))

	case "show":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatcli show <conversation_id>")
			os.Exit(1)
		}
		s, err := api.Conversation(ctx, os.Args[2])
		exitOnError(err)
		printJSON(s)

	case "open":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatcli open <conversation_id>")
			os.Exit(1)
		}
		me, err := subject(token)
		exitOnError(err)
		exitOnError(chat(ctx, api, client.NewFeed(baseURL, token, logger()), os.Args[2], me))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// chat runs an interactive session until stdin closes or ctx is cancelled.
// Lines starting with /retry or /discard act on the last failed message.
func chat(ctx context.Context, api *client.Client, feed *client.Feed, conversationID, me string) error {
	var (
		ctrl    *session.Controller
		mu      sync.Mutex
		printed = map[string]bool{}
		lost    bool
	)
	ctrl = session.New(api, feed, conversationID, me, session.Options{
		PageSize: 30,
		Logger:   logger(),
		OnChange: func() {
			mu.Lock()
			defer mu.Unlock()
			switch state := ctrl.State(); {
			case state == session.StateError && errors.Is(ctrl.Err(), session.ErrFeedLost) && !lost:
				lost = true
				fmt.Println("-- connection lost, reconnecting")
			case state == session.StateReady && lost:
				lost = false
				fmt.Println("-- reconnected")
			}
			for _, e := range ctrl.Messages() {
				var key string
				switch e.Status {
				case session.StatusPending:
					continue
				case session.StatusFailed:
					key = "failed:" + e.TempID
				default:
					key = e.Message.ID
				}
				if printed[key] {
					continue
				}
				printed[key] = true
				printEntry(e, me)
			}
		},
	})
	defer ctrl.Close()

	if err := ctrl.Open(ctx); err != nil {
		return err
	}
	fmt.Printf("-- %s (ctrl-d to quit)\n", otherName(ctrl.Summary()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, ctrl, strings.TrimSpace(line))
		}
	}
}

func handleLine(ctx context.Context, ctrl *session.Controller, line string) {
	switch line {
	case "":
		return
	case "/retry", "/discard":
		failed := lastFailed(ctrl)
		if failed == "" {
			fmt.Fprintln(os.Stderr, "nothing to "+strings.TrimPrefix(line, "/"))
			return
		}
		if line == "/discard" {
			ctrl.Discard(failed)
			return
		}
		if err := ctrl.Retry(ctx, failed); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	case "/older":
		more, err := ctrl.LoadOlder(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return
		}
		if !more {
			fmt.Println("-- start of conversation")
		}
	default:
		if _, err := ctrl.Send(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

func lastFailed(ctrl *session.Controller) string {
	entries := ctrl.Messages()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == session.StatusFailed {
			return entries[i].TempID
		}
	}
	return ""
}

func printEntry(e session.Entry, me string) {
	from := e.Message.SenderID
	if from == me {
		from = "me"
	}
	ts := e.Message.CreatedAt.Local().Format("15:04")
	switch e.Status {
	case session.StatusFailed:
		fmt.Printf("[%s] %s: %s (failed: %v, /retry or /discard)\n", ts, from, e.Message.Content, e.Err)
	default:
		fmt.Printf("[%s] %s: %s\n", ts, from, e.Message.Content)
	}
}

// subject reads the user id from the token. The server verifies it; the
// client only needs it to tell its own messages apart.
func subject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func otherName(s models.ConversationSummary) string {
	if s.OtherUser == nil {
		return "(left)"
	}
	if s.OtherUser.DisplayName != nil && *s.OtherUser.DisplayName != "" {
		return *s.OtherUser.DisplayName
	}
	return s.OtherUser.ID
}

func preview(m *models.Message) string {
	if m == nil {
		return ""
	}
	text := m.Content
	if r := []rune(text); len(r) > 40 {
		text = string(r[:40]) + "…"
	}
	return text
}

func listLine(s models.ConversationSummary) string {
	return fmt.Sprintf("  %s  %-20s unread=%d  %s  %s", s.ConversationID, otherName(s), s.UnreadCount,
		s.LastActivity().Local().Format(time.DateTime), preview(s.LastMessage))
}

func logger() zerolog.Logger {
	if os.Getenv("CHAT_DEBUG") == "" {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func usage() {
	fmt.Println(`chatcli - market-chat terminal client

Usage: chatcli <command> [options]

Commands:
  list                    List your conversations
  start <user_id>         Open (or reopen) a conversation with a user
  open <conversation_id>  Chat interactively
  show <conversation_id>  Print a conversation summary
  unread [conversation]   Unread count, total when no conversation is given
  leave <conversation_id> Hide a conversation

Environment:
  CHAT_URL      Server URL (default: http://localhost:8083)
  CHAT_TOKEN    Bearer token
  CHAT_DEBUG    Log client diagnostics to stderr when set`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
