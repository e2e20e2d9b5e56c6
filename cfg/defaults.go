package cfg

// Default returns the Config BindFlags would produce from an empty flag
// set, for callers (tests, `sealfs init`) that need a Config without
// going through a cobra command.
func Default() Config {
	return Config{
		Cipher:      AES256GCM,
		ChunkSizeKB: 256,
		Logging: LoggingConfig{
			Format:   LogFormatJSON,
			Severity: "INFO",
			LogRotate: LogRotateConfig{
				MaxFileSizeMB:   512,
				BackupFileCount: 10,
				Compress:        true,
			},
		},
		PasswordEnvVar: "SEALFS_PASSWORD",
	}
}
