package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealfs/sealfs/cfg"
	"github.com/sealfs/sealfs/internal/fsengine"
)

// newInitCmd builds the "init" subcommand: it creates a fresh sealed
// data directory without mounting it, per spec §6.
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <data-dir>",
		Short: "Create a new encrypted data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := bindAndResolveConfig(cmd)
			if err != nil {
				return err
			}
			return runInit(config, args[0])
		},
	}
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		panic(fmt.Errorf("binding init flags: %w", err))
	}
	return cmd
}

func runInit(config *cfg.Config, dataDir string) error {
	password, err := promptNewPassword()
	if err != nil {
		return err
	}
	defer zero(password)

	engine, err := fsengine.Init(dataDir, password, config.Cipher.Suite(), fsengine.Config{
		ChunkSize: config.ChunkSizeKB * 1024,
	})
	if err != nil {
		return fmt.Errorf("initializing %s: %w", dataDir, err)
	}
	engine.Close()

	fmt.Printf("initialized encrypted data directory at %s\n", dataDir)
	return nil
}

// promptNewPassword prompts twice and requires the two entries to match,
// the way passwd and similar tools confirm a freshly chosen secret.
func promptNewPassword() ([]byte, error) {
	pw, err := promptPassword("New password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	if string(pw) != string(confirm) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return pw, nil
}
