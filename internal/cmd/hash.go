package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/password"
)

func newHashCmd() *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "hash <password>",
		Short: "Hash a password",
		Long: `Hash a password in the stored $2a$<rounds>$<salt>$<hash> format.
Useful for seeding accounts directly in the KV store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rounds < password.MinRounds || rounds > password.MaxRounds {
				return errors.NewInvalidInputError(fmt.Sprintf("--rounds must be between %d and %d", password.MinRounds, password.MaxRounds))
			}
			encoded, err := password.NewHasher(rounds).Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", password.DefaultRounds, "cost as a power of two")
	cmd.AddCommand(&cobra.Command{
		Use:   "verify <password> <hash>",
		Short: "Check a password against a hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !password.Verify(args[0], args[1]) {
				return errors.NewInvalidCredentialsError()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "match")
			return nil
		},
	})
	return cmd
}
