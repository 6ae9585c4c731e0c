package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/fundsettle/internal/crypto"
)

// CmdEncryptKey returns the command that encrypts an authority key locally.
func CmdEncryptKey() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt a base58 authority private key for encrypted_key_path",
		Long: `Read a base58 private key from stdin and write it encrypted with a
password-derived key. The password is read from the environment variable
named by --password-env. Nothing is sent to the server.

Example:
  FUNDSETTLE_KEY_PASSWORD=... fundsettlectl encrypt-key --out keys/authority.json < key.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("out")
			envName, _ := cmd.Flags().GetString("password-env")
			password := os.Getenv(envName)
			if password == "" {
				return fmt.Errorf("%s is not set", envName)
			}

			key, err := readKey(cmd.InOrStdin())
			if err != nil {
				return err
			}
			blob, err := crypto.EncryptKey(key, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted key written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().String("out", "authority-key.json", "output file")
	cmd.Flags().String("password-env", "FUNDSETTLE_KEY_PASSWORD", "environment variable holding the password")
	return cmd
}

// readKey returns the first non-blank line of r.
func readKey(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return "", errors.New("no private key on stdin")
}
