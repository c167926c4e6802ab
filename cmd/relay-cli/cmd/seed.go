package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/relay/internal/auth"
	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/domain"
)

var (
	seedUsers []string
	seedChat  string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create users and a chat directly in the store",
	Long: `Create users (and optionally one chat between all of them) in the store
configured for the server, then print a token for each user.

Users are given as id=Name. Existing users are reused.

Examples:
  relay-cli seed --user alice=Alice --user bob=Bob
  relay-cli seed --user alice=Alice --user bob=Bob --chat general`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store, err := database.Open(ctx, cfg.Database(), slog.Default())
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		authn := auth.NewAuthenticator([]byte(cfg.JWTSecret), store, auth.WithIssuer(cfg.JWTIssuer))
		out := cmd.OutOrStdout()

		var ids []string
		for _, arg := range seedUsers {
			user, err := ensureUser(ctx, store, arg)
			if err != nil {
				return err
			}
			token, err := authn.Issue(user.ID, cfg.TokenTTL)
			if err != nil {
				return err
			}
			ids = append(ids, user.ID)
			fmt.Fprintf(out, "user\t%s\t%s\t%s\n", user.ID, user.DisplayName(), token)
		}

		if seedChat == "" {
			return nil
		}
		if len(ids) == 0 {
			return errors.New("--chat needs at least one --user")
		}
		chat, err := store.CreateChat(ctx, &domain.Chat{Name: seedChat, CreatedBy: ids[0], Participants: ids[1:]})
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		fmt.Fprintf(out, "chat\t%s\t%s\t%s\n", chat.ID, chat.Name, strings.Join(chat.Participants, ","))
		return nil
	},
}

func ensureUser(ctx context.Context, store domain.UserRepository, arg string) (*domain.User, error) {
	id, name, _ := strings.Cut(arg, "=")
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("invalid user %q: want id=Name", arg)
	}
	email := id + "@relay.local"
	user, err := store.CreateUser(ctx, &domain.User{ID: id, Email: email, Name: strings.TrimSpace(name)})
	if errors.Is(err, domain.ErrUserAlreadyExists) {
		return store.FindUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", id, err)
	}
	return user, nil
}

func init() {
	seedCmd.Flags().StringArrayVar(&seedUsers, "user", nil, "user to create as id=Name (repeatable)")
	seedCmd.Flags().StringVar(&seedChat, "chat", "", "name of a chat to create between the users")
	_ = seedCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(seedCmd)
}
