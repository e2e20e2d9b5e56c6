package cfg

import "fmt"

func isValidLogRotateConfig(c *LogRotateConfig) error {
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if c.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backups) or a positive value")
	}
	return nil
}

// Validate returns a non-nil error if config cannot be used to mount.
func Validate(config *Config) error {
	if config.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if config.MountPoint == "" {
		return fmt.Errorf("mount-point is required")
	}
	if config.Cipher != AES256GCM && config.Cipher != ChaCha20Poly1305 {
		return fmt.Errorf("cipher must be %q or %q, got %q", AES256GCM, ChaCha20Poly1305, config.Cipher)
	}
	if config.ChunkSizeKB <= 0 {
		return fmt.Errorf("chunk-size-kb must be positive, got %d", config.ChunkSizeKB)
	}
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}
