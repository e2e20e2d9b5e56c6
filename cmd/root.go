// Package cmd is sealfs's cobra command tree: a root command plus the
// mount/init/passwd subcommands, modeled on gcsfuse's own cmd/root.go
// (the part of this package that binds cfg.Config to pflag/viper and
// builds the cobra.Command) and cmd/mount.go (the part that actually
// mounts the fuse.Server).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sealfs/sealfs/cfg"
)

var cfgFile string

// NewRootCmd builds the sealfs root command. runMount is injected so
// tests can observe the resolved cfg.Config without actually mounting a
// filesystem, the same factory pattern gcsfuse's own NewRootCmd uses.
func NewRootCmd(runMount func(*cfg.Config, string, string) error) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "sealfs",
		Short:         "Mount an encrypted directory tree over FUSE",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")

	root.AddCommand(newMountCmd(runMount))
	root.AddCommand(newInitCmd())
	root.AddCommand(newPasswdCmd())
	return root, nil
}

// Execute runs the real root command against os.Args, exiting the
// process with status 1 on failure.
func Execute() {
	root, err := NewRootCmd(runMount)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bindAndResolveConfig parses cmd's flags into a cfg.Config, reading
// --config-file first if given, mirroring gcsfuse's cobra.OnInitialize
// config-file-then-flags precedence.
func bindAndResolveConfig(cmd *cobra.Command) (*cfg.Config, error) {
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config cfg.Config
	if err := viper.Unmarshal(&config, viper.DecodeHook(cfg.DecodeHook())); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &config, nil
}
