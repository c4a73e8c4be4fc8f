// Command chat is a terminal client for the training portal chat service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "CHAT_TOKEN is required")
		os.Exit(1)
	}

	store := client.NewStoreClient(baseURL, token)
	ctx := context.Background()
	cmd := os.Args[1]

	switch cmd {
	case "rooms":
		rooms, err := store.Rooms(ctx)
		exitOnError(err)
		for _, r := range rooms {
			line := fmt.Sprintf("  %d  [%s]", r.ID, r.LastActivityAt.Format("2006-01-02 15:04"))
			if r.LastMessage != nil {
				line += "  " + r.LastMessage.Content
			}
			fmt.Println(line)
		}

	case "users":
		users, err := store.Users(ctx)
		exitOnError(err)
		for _, u := range users {
			marker := " "
			if u.Online {
				marker = "*"
			}
			fmt.Printf("  %s %d  %s (%s)\n", marker, u.ID, u.Name, u.Role)
		}

	case "read":
		roomID := roomArg(2)
		msgs, err := store.RoomMessages(ctx, roomID)
		exitOnError(err)
		for _, m := range msgs {
			fmt.Printf("[%s] %d: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.SenderID, m.Content)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat send <room_id> <message>")
			os.Exit(1)
		}
		roomID := roomArg(2)
		msg, err := store.SendMessage(ctx, roomID, strings.Join(os.Args[3:], " "), nil)
		exitOnError(err)
		fmt.Printf("Sent: %d\n", msg.ID)

	case "unread":
		count, err := store.UnreadCount(ctx)
		exitOnError(err)
		fmt.Println(count)

	case "watch":
		watch(baseURL, token, roomArg(2))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch opens a room with the full session stack and streams it live:
// pushed messages as they arrive, polling reconciliation behind the scenes.
func watch(baseURL, token string, roomID int64) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	store := client.NewStoreClient(baseURL, token)
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn := client.NewConnManager(wsURL, token, logger)
	defer conn.Close()

	sess := client.NewSession(0, store, conn, logger)

	printed := 0
	render := make(chan struct{}, 1)
	sess.OnChange(func() {
		select {
		case render <- struct{}{}:
		default:
		}
	})

	conn.Connect(ctx)
	go sess.Run(ctx)
	sess.Open(ctx, roomID)

	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return
		case <-render:
			entries := sess.Entries()
			for ; printed < len(entries); printed++ {
				e := entries[printed]
				status := ""
				if e.Pending {
					status = " (sending)"
				}
				if e.Failed {
					status = " (failed)"
				}
				fmt.Printf("[%s] %d: %s%s\n",
					e.Message.CreatedAt.Format("15:04:05"), e.Message.SenderID, e.Message.Content, status)
			}
			if typists := sess.Typing().TypingUsers(roomID); len(typists) > 0 {
				fmt.Printf("  ... %d typing\n", len(typists))
			}
		}
	}
}

func roomArg(i int) int64 {
	if len(os.Args) <= i {
		fmt.Fprintln(os.Stderr, "room id required")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(os.Args[i], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad room id: %s\n", os.Args[i])
		os.Exit(1)
	}
	return id
}

func usage() {
	fmt.Println(`chat - training portal chat client

Usage: chat <command> [options]

Commands:
  rooms                   List your rooms
  users                   List users (* = online)
  read <room_id>          Print a room's history
  send <room_id> <msg>    Send a message
  watch <room_id>         Stream a room live
  unread                  Total unread count

Environment:
  CHAT_URL      Server URL (default: http://localhost:8080)
  CHAT_TOKEN    Bearer token (required; mint one with mktoken)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
