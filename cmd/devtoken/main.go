// Command devtoken mints an access token for local testing against the configured secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/config"
	"studio-schedule/internal/models"
)

func main() {
	userID := flag.String("user", "", "user id placed in the token subject")
	role := flag.String("role", "client", "admin, trainer, client or user")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.MustLoad()

	r, err := models.ParseRole(*role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	token, err := auth.NewGateway(cfg.Auth.JWTSecret, cfg.Auth.Issuer).
		IssueToken(auth.Identity{UserID: *userID, Role: r}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(token)
}
