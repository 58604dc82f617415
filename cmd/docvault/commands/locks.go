package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docvaulthq/docvault/locking"
)

var lockTTL time.Duration

var lockCmd = &cobra.Command{
	Use:   "lock <resource>",
	Short: "Acquire a best-effort advisory lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		lock := locking.NewDocumentLock(store)
		if !lock.Acquire(cmd.Context(), args[0], lockTTL) {
			return fmt.Errorf("failed to acquire lock for %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "locked %s as %s for %s\n", args[0], lock.Owner, lockTTL)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <resource>",
	Short: "Release an advisory lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		lock := locking.NewDocumentLock(store)
		if !lock.Release(cmd.Context(), args[0]) {
			return fmt.Errorf("failed to release lock for %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", args[0])
		return nil
	},
}

var lockInfoCmd = &cobra.Command{
	Use:   "lock-info <resource>",
	Short: "Show who holds a lock and whether it expired",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		lock := locking.NewDocumentLock(store)
		info, err := lock.Info(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if info == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "no lock for %s\n", args[0])
			return nil
		}
		state := "held"
		if info.Expired(time.Now()) {
			state = "expired"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s by %s since %s (ttl %s)\n",
			args[0], state, info.Owner, info.LockedAt.Format(time.RFC3339), info.TTL)
		return nil
	},
}

func init() {
	lockCmd.Flags().DurationVar(&lockTTL, "ttl", locking.DefaultTTL, "lock time to live")
	rootCmd.AddCommand(lockCmd, unlockCmd, lockInfoCmd)
}
