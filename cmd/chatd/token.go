package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/auth"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/chat"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/normalize"
)

// The server does not mint tokens in production; the surrounding platform
// authenticates users and issues them. This command covers development and
// operational testing.
func newTokenCommand() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runToken(args[0], ttl)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runToken(userID string, ttl time.Duration) error {
	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	userID = normalize.UserID(userID)
	if err := chat.ValidateUserID(userID); err != nil {
		return err
	}

	token, expires, err := auth.NewJWTManager(secret, ttl).GenerateToken(userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
