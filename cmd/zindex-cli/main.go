package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matteso1/zindex/internal/client"
)

var (
	addr    string
	timeout time.Duration

	rootCmd = &cobra.Command{
		Use:   "zindex-cli [flags] <command> [args...]",
		Short: "Send one command to a zindex server",
		Long: `Sends one command to a zindex server and prints the reply.

Commands:
  zadd key score name                   add or update a member
  zrem key name                         remove a member
  zscore key name                       score of a member
  zquery key score name offset limit    members at or after (score, name)
  zrank key name                        0-based position of a member
  zcard key                             number of members
  del key                               delete a sorted set
  keys                                  list keys
  ping [message]                        round trip`,
		Example: `  zindex-cli zadd board 10 alice
  zindex-cli zquery board 0 "" 0 10`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCommand,
	}
)

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:1234", "Server address")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Round trip timeout")
	// Command arguments such as -inf are not flags.
	rootCmd.Flags().SetInterspersed(false)
}

func runCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	v, err := c.Do(ctx, args...)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.String())
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
