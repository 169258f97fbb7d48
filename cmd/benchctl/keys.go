package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/visionbench/internal/apikey"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

func newKeysCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	var (
		name   string
		scopes []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Long: `Create an API key. The raw key is printed once and cannot be recovered;
only its bcrypt hash is stored. Use this to bootstrap the first admin key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("--name is required")
			}
			granted, err := apikey.ValidateScopes(scopes)
			if err != nil {
				return err
			}

			st, closeStore, err := g.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			gen, err := apikey.Generate()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				Name:      name,
				KeyHash:   gen.Hash,
				KeyPrefix: gen.Prefix,
				Scopes:    granted,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := st.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("creating key %q: %w", name, err)
			}
			return printJSON(cmd, map[string]any{
				"id":     key.ID,
				"name":   key.Name,
				"key":    gen.Raw,
				"scopes": key.Scopes,
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "unique key name")
	create.Flags().StringSliceVar(&scopes, "scope", nil, "scope to grant (read, write, admin); repeatable")

	cmd.AddCommand(create)
	return cmd
}
