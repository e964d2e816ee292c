package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hookrouter/internal/security"
)

var (
	signSecret string
	signData   string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a payload for the secure webhook endpoint",
	Long: `Print the value of the ` + security.SignatureHeader + ` header for a payload.

The secret defaults to $WEBHOOK_SECRET. The payload is signed byte for byte, so
send exactly the bytes that were signed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := signSecret
		if secret == "" {
			secret = os.Getenv("WEBHOOK_SECRET")
		}
		if secret == "" {
			return errors.New("no secret: pass --secret or set WEBHOOK_SECRET")
		}

		var r io.Reader = cmd.InOrStdin()
		if signData != "-" {
			f, err := os.Open(signData)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		payload, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		printf(cmd, "sha256=%s\n", security.Sign(payload, secret))
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", "", "shared webhook secret")
	signCmd.Flags().StringVarP(&signData, "data", "d", "-", "payload file or - for stdin")
	rootCmd.AddCommand(signCmd)
}
