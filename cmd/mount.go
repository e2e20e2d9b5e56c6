package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"

	"github.com/sealfs/sealfs/cfg"
	"github.com/sealfs/sealfs/internal/fsengine"
	"github.com/sealfs/sealfs/internal/fusebridge"
	"github.com/sealfs/sealfs/internal/logger"
)

// newMountCmd builds the "mount" subcommand. runMount is injected so
// tests can observe the resolved cfg.Config without mounting a real
// filesystem, mirroring gcsfuse's own NewRootCmd(runMount) factory.
func newMountCmd(runMount func(config *cfg.Config, dataDir, mountPoint string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <data-dir> <mount-point>",
		Short: "Mount an encrypted data directory over FUSE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := bindAndResolveConfig(cmd)
			if err != nil {
				return err
			}
			return runMount(config, args[0], args[1])
		},
	}
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		panic(fmt.Errorf("binding mount flags: %w", err))
	}
	return cmd
}

// runMount opens dataDir's sealed content under password, wraps it in a
// fusebridge.FileSystem, and mounts it at mountPoint until interrupted,
// the way gcsfuse's cmd/mount.go drives fs.NewServer and fuse.Mount.
func runMount(config *cfg.Config, dataDir, mountPoint string) error {
	if err := config.DataDir.UnmarshalText([]byte(dataDir)); err != nil {
		return fmt.Errorf("resolving %q: %w", dataDir, err)
	}
	if err := config.MountPoint.UnmarshalText([]byte(mountPoint)); err != nil {
		return fmt.Errorf("resolving %q: %w", mountPoint, err)
	}
	if err := cfg.Validate(config); err != nil {
		return err
	}
	dataDir = string(config.DataDir)
	mountPoint = string(config.MountPoint)

	if err := logger.InitLogFile(logger.Config{
		FilePath: string(config.Logging.FilePath),
		Format:   string(config.Logging.Format),
		Severity: logger.Severity(config.Logging.Severity),
		Rotate: logger.RotateConfig{
			MaxFileSizeMB:   config.Logging.LogRotate.MaxFileSizeMB,
			BackupFileCount: config.Logging.LogRotate.BackupFileCount,
			Compress:        config.Logging.LogRotate.Compress,
		},
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	if path := string(config.Logging.FilePath); path != "" {
		closeCrash, err := enableCrashOutput(path)
		if err != nil {
			return err
		}
		defer closeCrash()
	}

	password, err := resolvePassword(config)
	if err != nil {
		return fmt.Errorf("resolving mount password: %w", err)
	}
	defer zero(password)

	engine, err := fsengine.Open(dataDir, password, config.Cipher.Suite(), fsengine.Config{
		ChunkSize:   config.ChunkSizeKB * 1024,
		SuidSupport: config.Mount.SuidSupport,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", dataDir, err)
	}
	defer engine.Close()

	bridge := fusebridge.New(engine, fusebridge.Config{
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	})
	server := fuseutil.NewFileSystemServer(bridge)

	mountCfg := buildMountConfig(config)

	logger.Infof("mounting %s at %s", dataDir, mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Infof("unmounting %s", mountPoint)
		if err := fuse.Unmount(mountPoint); err != nil {
			logger.Errorf("unmount %s: %v", mountPoint, err)
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("serving %s: %w", mountPoint, err)
	}
	return nil
}

// buildMountConfig translates config.Mount into the *fuse.MountConfig
// jacobsa/fuse expects, the way gcsfuse's getFuseMountConfig builds one
// from its own cfg.Config.
func buildMountConfig(config *cfg.Config) *fuse.MountConfig {
	options := map[string]string{}
	if config.Mount.AllowRoot {
		options["allow_root"] = ""
	}
	if config.Mount.AllowOther {
		options["allow_other"] = ""
	}

	mountCfg := &fuse.MountConfig{
		FSName:                  "sealfs",
		Subtype:                 "sealfs",
		VolumeName:              "sealfs",
		Options:                 options,
		EnableParallelDirOps:    true,
		DisableWritebackCaching: config.Mount.DirectIO,
	}

	severity := logger.Severity(config.Logging.Severity)
	if severity.Rank() <= logger.ERROR.Rank() {
		mountCfg.ErrorLogger = logger.NewStdLogger("fuse: ")
	}
	if severity.Rank() <= logger.TRACE.Rank() {
		mountCfg.DebugLogger = logger.NewStdLogger("fuse_debug: ")
	}
	return mountCfg
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
