package cmd

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashCost int

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Hash an API key for API_KEY_HASHES",
	Long:  "Print the bcrypt hash of an API key. Without an argument the key is read from the first line of stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no key given")
			}
			key = strings.TrimRight(line, "\r\n")
		}
		if key == "" {
			return errors.New("key is empty")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(key), hashCost)
		if err != nil {
			return err
		}
		printf(cmd, "%s\n", hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().IntVar(&hashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	rootCmd.AddCommand(hashKeyCmd)
}
