// Command mktoken mints a bearer session token for a user. Intended for
// local development and ops; the portal's login flow issues real sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/ezifydevelopers/trainingportal-chat/internal/config"
	"github.com/ezifydevelopers/trainingportal-chat/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mktoken <user_id>")
		os.Exit(1)
	}
	userID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad user id: %s\n", os.Args[1])
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	redis, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}

	token, err := redis.CreateSession(ctx, userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create session:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
