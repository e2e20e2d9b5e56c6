package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is sealfs's full set of mount-time settings, bound from CLI
// flags (see BindFlags) the way gcsfuse's own Config is bound from its
// much larger flag set.
type Config struct {
	DataDir    ResolvedPath `yaml:"data-dir" mapstructure:"data-dir"`
	MountPoint ResolvedPath `yaml:"mount-point" mapstructure:"mount-point"`

	Cipher      Cipher `yaml:"cipher" mapstructure:"cipher"`
	ChunkSizeKB int    `yaml:"chunk-size-kb" mapstructure:"chunk-size-kb"`

	Mount MountConfig `yaml:"mount" mapstructure:"mount"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	PasswordEnvVar string `yaml:"password-env" mapstructure:"password-env"`
	KeyringService string `yaml:"keyring-service" mapstructure:"keyring-service"`
}

// MountConfig holds the FUSE mount options spec §6 exposes.
type MountConfig struct {
	AllowRoot   bool `yaml:"allow-root" mapstructure:"allow-root"`
	AllowOther  bool `yaml:"allow-other" mapstructure:"allow-other"`
	DirectIO    bool `yaml:"direct-io" mapstructure:"direct-io"`
	SuidSupport bool `yaml:"suid-support" mapstructure:"suid-support"`
	NoAtime     bool `yaml:"no-atime" mapstructure:"no-atime"`
}

// LoggingConfig holds the internal/logger settings.
type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path" mapstructure:"file-path"`
	Format   LogFormat    `yaml:"format" mapstructure:"format"`
	Severity string       `yaml:"severity" mapstructure:"severity"`

	LogRotate LogRotateConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// LogRotateConfig mirrors internal/logger.RotateConfig.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// flagBinding pairs a viper key with the flag it reads from, so BindFlags
// can register and bind each flag in one pass.
type flagBinding struct {
	key  string
	flag string
}

// BindFlags registers sealfs's mount flags on flagSet and binds each to
// its viper key, following the same flagSet.XxxP + viper.BindPFlag
// pairing gcsfuse's generated cfg.BindFlags uses. On a flag set that
// already carries the flags it only re-binds the viper keys to them.
func BindFlags(flagSet *pflag.FlagSet) error {
	if flagSet.Lookup("cipher") == nil {
		flagSet.StringP("cipher", "", string(AES256GCM), "AEAD cipher for new data directories: aes256-gcm or chacha20-poly1305.")
		flagSet.IntP("chunk-size-kb", "", 256, "Content chunk size in KiB.")
		flagSet.BoolP("allow-root", "", false, "Allow the root user to access the mount.")
		flagSet.BoolP("allow-other", "", false, "Allow other users to access the mount.")
		flagSet.BoolP("direct-io", "", false, "Disable the kernel's writeback cache for file writes; reads are still cached.")
		flagSet.BoolP("suid-support", "", false, "Honor setuid/setgid bits on mounted files.")
		flagSet.BoolP("no-atime", "", false, "Do not update atime on read.")
		flagSet.StringP("log-file", "", "", "Path to the log file. Empty logs to stderr.")
		flagSet.StringP("log-format", "", "json", "Log output format: text or json.")
		flagSet.StringP("log-severity", "", "INFO", "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
		flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "Log file size in MiB before rotation.")
		flagSet.IntP("log-rotate-backup-file-count", "", 10, "Number of rotated log files to retain; 0 retains all.")
		flagSet.BoolP("log-rotate-compress", "", true, "Gzip rotated log files.")
		flagSet.StringP("password-env", "", "SEALFS_PASSWORD", "Environment variable holding the mount password.")
		flagSet.StringP("keyring-service", "", "", "OS keyring service name to try if password-env is unset. Empty disables the keyring source.")
	}

	bindings := []flagBinding{
		{"cipher", "cipher"},
		{"chunk-size-kb", "chunk-size-kb"},
		{"mount.allow-root", "allow-root"},
		{"mount.allow-other", "allow-other"},
		{"mount.direct-io", "direct-io"},
		{"mount.suid-support", "suid-support"},
		{"mount.no-atime", "no-atime"},
		{"logging.file-path", "log-file"},
		{"logging.format", "log-format"},
		{"logging.severity", "log-severity"},
		{"logging.log-rotate.max-file-size-mb", "log-rotate-max-file-size-mb"},
		{"logging.log-rotate.backup-file-count", "log-rotate-backup-file-count"},
		{"logging.log-rotate.compress", "log-rotate-compress"},
		{"password-env", "password-env"},
		{"keyring-service", "keyring-service"},
	}
	for _, b := range bindings {
		if err := viper.BindPFlag(b.key, flagSet.Lookup(b.flag)); err != nil {
			return err
		}
	}

	return nil
}
