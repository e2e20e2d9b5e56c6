package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealfs/sealfs/cfg"
	"github.com/sealfs/sealfs/internal/fsengine"
)

// newPasswdCmd builds the "passwd" subcommand: it re-wraps a data
// directory's master key under a new password without touching any
// sealed content, per spec §6.
func newPasswdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passwd <data-dir>",
		Short: "Change an encrypted data directory's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := bindAndResolveConfig(cmd)
			if err != nil {
				return err
			}
			return runPasswd(config, args[0])
		},
	}
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		panic(fmt.Errorf("binding passwd flags: %w", err))
	}
	return cmd
}

func runPasswd(config *cfg.Config, dataDir string) error {
	oldPassword, err := promptPassword("Current password: ")
	if err != nil {
		return err
	}
	defer zero(oldPassword)

	newPassword, err := promptNewPassword()
	if err != nil {
		return err
	}
	defer zero(newPassword)

	if err := fsengine.ChangePassword(dataDir, oldPassword, newPassword, config.Cipher.Suite()); err != nil {
		return fmt.Errorf("changing password for %s: %w", dataDir, err)
	}

	fmt.Println("password changed")
	return nil
}
