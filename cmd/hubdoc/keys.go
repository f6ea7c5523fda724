package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/chacha20poly1305"
)

func newKeysCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate a cookie sealing key",
		Long:  "Prints a random key as id:base64, ready for HUBDOC_COOKIES_KEYS.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := make([]byte, chacha20poly1305.KeySize)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", id, base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "k1", "key id")
	return cmd
}
