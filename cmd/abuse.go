////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/parley/abuse"
)

// statusCmd prints a user's violations and any block in force.
var statusCmd = &cobra.Command{
	Use:   "status <user>",
	Short: "Prints the violation count and block state of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		userID := args[0]
		status, err := svc.tracker.Status(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Println(formatStatus(userID, status, svc.clock.Now()))

		if !viper.GetBool(followFlag) {
			return nil
		}

		// Follow the record until interrupted, clearing expired blocks the way
		// a client does.
		watch := svc.tracker.Watch(userID, viper.GetDuration(abusePollFlag),
			func(s abuse.Status) {
				fmt.Println(formatStatus(userID, s, svc.clock.Now()))
			})
		defer func() {
			if err := watch.Close(); err != nil {
				jww.WARN.Printf("[ABUSE] %+v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)
		defer signal.Stop(quit)
		select {
		case <-quit:
		case <-cmd.Context().Done():
		}
		return nil
	},
}

// unblockCmd lifts a user's block, by default through their daily grant.
var unblockCmd = &cobra.Command{
	Use:   "unblock <user>",
	Short: "Unblocks a user using their once-a-day unblock grant",
	Long: "Unblocks a user using their once-a-day unblock grant and resets " +
		"their violation count. With --admin the grant ledger is bypassed.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		userID := args[0]
		if viper.GetBool(adminFlag) {
			err = svc.tracker.Unblock(cmd.Context(), userID)
		} else {
			err = svc.grants.Grant(cmd.Context(), userID)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Unblocked %s\n", userID)
		return nil
	},
}

// blockCmd places an administrative block on a user.
var blockCmd = &cobra.Command{
	Use:   "block <user>",
	Short: "Blocks a user from sending for a fixed duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		userID := args[0]
		d := viper.GetDuration(durationFlag)
		err = svc.tracker.BlockManually(cmd.Context(), userID, d,
			viper.GetString(reasonFlag))
		if err != nil {
			return err
		}
		fmt.Printf("Blocked %s until %s\n", userID,
			svc.clock.Now().Add(d).Format(time.RFC1123))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolP(followFlag, "f", false,
		"Keep printing the status every poll interval")
	bindFlagHelper(followFlag, statusCmd)

	unblockCmd.Flags().Bool(adminFlag, false,
		"Unblock without spending the daily grant")
	bindFlagHelper(adminFlag, unblockCmd)

	blockCmd.Flags().Duration(durationFlag, time.Hour, "Length of the block")
	bindFlagHelper(durationFlag, blockCmd)
	blockCmd.Flags().String(reasonFlag, "", "Reason shown to the user")
	bindFlagHelper(reasonFlag, blockCmd)

	rootCmd.AddCommand(statusCmd, unblockCmd, blockCmd)
}

// formatStatus renders a user's abuse status relative to now.
func formatStatus(userID string, s abuse.Status, now time.Time) string {
	out := fmt.Sprintf("%s: %d violations", userID, s.Record.ViolationCount)
	if s.Record.LastViolationAt != nil {
		out += fmt.Sprintf(", last %s", humanize.Time(*s.Record.LastViolationAt))
	}

	until, reason, blocked := s.BlockedUntil(now)
	if !blocked {
		return out + ", not blocked"
	}
	out += ", blocked until " + until.Format(time.RFC1123) + " (" +
		humanize.RelTime(until, now, "ago", "from now") + ")"
	if reason != "" {
		out += ": " + reason
	}
	return out
}
