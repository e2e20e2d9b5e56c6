package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func redirectLogsToGivenBuffer(buf *bytes.Buffer, level Severity) {
	var lv slog.LevelVar
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(buf, &lv, "TestLogs: "))
	setLoggingLevel(level, &lv)
}

func fetchLogOutputForSpecifiedSeverityLevel(level Severity) []string {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, level)

	var output []string
	for _, f := range []func(){
		func() { Tracef("www.traceExample.com") },
		func() { Debugf("www.debugExample.com") },
		func() { Infof("www.infoExample.com") },
		func() { Warnf("www.warningExample.com") },
		func() { Errorf("www.errorExample.com") },
	} {
		f()
		output = append(output, buf.String())
		buf.Reset()
	}
	return output
}

func validateOutput(t *testing.T, expected []string, output []string) {
	t.Helper()
	for i := range output {
		if expected[i] == "" {
			assert.Equal(t, expected[i], output[i])
			continue
		}
		assert.True(t, regexp.MustCompile(expected[i]).MatchString(output[i]), "got: %q", output[i])
	}
}

func TestLogLevelOff(t *testing.T) {
	output := fetchLogOutputForSpecifiedSeverityLevel(OFF)
	validateOutput(t, []string{"", "", "", "", ""}, output)
}

func TestLogLevelError(t *testing.T) {
	output := fetchLogOutputForSpecifiedSeverityLevel(ERROR)
	validateOutput(t, []string{"", "", "", "", `"severity":"ERROR"`}, output)
}

func TestLogLevelWarning(t *testing.T) {
	output := fetchLogOutputForSpecifiedSeverityLevel(WARNING)
	validateOutput(t, []string{"", "", "", `"severity":"WARNING"`, `"severity":"ERROR"`}, output)
}

func TestLogLevelInfo(t *testing.T) {
	output := fetchLogOutputForSpecifiedSeverityLevel(INFO)
	validateOutput(t, []string{"", "", `"severity":"INFO"`, `"severity":"WARNING"`, `"severity":"ERROR"`}, output)
}

func TestLogLevelDebug(t *testing.T) {
	output := fetchLogOutputForSpecifiedSeverityLevel(DEBUG)
	validateOutput(t, []string{"", `"severity":"DEBUG"`, `"severity":"INFO"`, `"severity":"WARNING"`, `"severity":"ERROR"`}, output)
}

func TestLogLevelTrace(t *testing.T) {
	output := fetchLogOutputForSpecifiedSeverityLevel(TRACE)
	validateOutput(t, []string{`"severity":"TRACE"`, `"severity":"DEBUG"`, `"severity":"INFO"`, `"severity":"WARNING"`, `"severity":"ERROR"`}, output)
}

func TestSetLoggingLevel(t *testing.T) {
	testData := []struct {
		input    Severity
		expected slog.Level
	}{
		{TRACE, LevelTrace},
		{DEBUG, LevelDebug},
		{WARNING, LevelWarn},
		{ERROR, LevelError},
		{OFF, LevelOff},
	}

	for _, test := range testData {
		var lv slog.LevelVar
		setLoggingLevel(test.input, &lv)
		assert.Equal(t, test.expected, lv.Level())
	}
}

func TestSetLogFormatSwitchesBetweenTextAndJSON(t *testing.T) {
	defaultLoggerFactory = &loggerFactory{format: "json"}

	for _, test := range []struct {
		format   string
		expected string
	}{
		{"text", `severity=INFO`},
		{"json", `"severity":"INFO"`},
	} {
		SetLogFormat(test.format)

		var buf bytes.Buffer
		redirectLogsToGivenBuffer(&buf, INFO)
		Infof("www.infoExample.com")

		assert.Regexp(t, test.expected, buf.String())
	}
}
