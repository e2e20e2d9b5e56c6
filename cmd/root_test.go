package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfs/sealfs/cfg"
)

// resetGlobalViper clears viper's global singleton between tests, since
// cfg.BindFlags (like gcsfuse's own generated BindFlags) binds into it
// directly rather than a per-call instance.
func resetGlobalViper(t *testing.T) {
	t.Helper()
	viper.Reset()
}

func TestMountCommandResolvesConfigAndArgsIntoRunMount(t *testing.T) {
	resetGlobalViper(t)

	var gotConfig *cfg.Config
	var gotDataDir, gotMountPoint string
	runMount := func(config *cfg.Config, dataDir, mountPoint string) error {
		gotConfig = config
		gotDataDir = dataDir
		gotMountPoint = mountPoint
		return nil
	}

	root, err := NewRootCmd(runMount)
	require.NoError(t, err)
	root.SetArgs([]string{"mount", "--cipher", "chacha20-poly1305", "--chunk-size-kb", "64", "/data", "/mnt"})

	require.NoError(t, root.Execute())
	require.NotNil(t, gotConfig)
	assert.Equal(t, cfg.ChaCha20Poly1305, gotConfig.Cipher)
	assert.Equal(t, 64, gotConfig.ChunkSizeKB)
	assert.Equal(t, "/data", gotDataDir)
	assert.Equal(t, "/mnt", gotMountPoint)
}

func TestMountCommandRequiresTwoArgs(t *testing.T) {
	resetGlobalViper(t)

	root, err := NewRootCmd(func(*cfg.Config, string, string) error { return nil })
	require.NoError(t, err)
	root.SetArgs([]string{"mount", "/only-one-arg"})

	assert.Error(t, root.Execute())
}
