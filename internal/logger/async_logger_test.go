package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestAsyncLoggerWriteAndClose(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "test.log")
	lj := &lumberjack.Logger{Filename: logPath}
	asyncLogger := NewAsyncLogger(lj, 10)

	fmt.Fprintln(asyncLogger, "message 1")
	fmt.Fprintln(asyncLogger, "message 2")
	fmt.Fprintln(asyncLogger, "message 3")
	require.NoError(t, asyncLogger.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "message 1\nmessage 2\nmessage 3\n", string(content))
}
