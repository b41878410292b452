package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepsea/diver"
	"github.com/deepsea/diver/bus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const divideProgram = `
func main
    input x int
    input y int
    div
    pop
    return
end
`

func TestRun_Explore(t *testing.T) {
	path := MustWriteFile(t, "divide.dasm", divideProgram)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"explore", "-workers", "2", "-default-policy", "seed", "-input", "x=int:10", "-input", "y=int:3", path}, &stdout, &stderr)
	require.Equal(t, ErrFaultsFound, err, stderr.String())

	var report diver.Report
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, 2, report.Runs)
	assert.Equal(t, 1, report.Faulted)
	assert.Equal(t, diver.StopExhausted, report.StopReason)
	require.Len(t, report.Faults, 1)
	assert.Equal(t, "10", report.Faults[0].Input["x"], "seed value of x must be kept")
	assert.Equal(t, "0", report.Faults[0].Input["y"])
	assert.Equal(t, "main:2/div", report.Faults[0].Pos)
}

func TestRun_Explore_Config(t *testing.T) {
	path := MustWriteFile(t, "divide.dasm", divideProgram)
	configPath := MustWriteFile(t, "diver.yaml", "max_runs: 5\nlog_level: error\n")

	// The flag overrides the config file.
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"explore", "-config", configPath, "-max-runs", "1", path}, &stdout, &stderr)
	require.Equal(t, ErrFaultsFound, err, stderr.String())

	var report diver.Report
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, 1, report.Runs)
	assert.Equal(t, diver.StopMaxRuns, report.StopReason)
}

func TestRun_Explore_Errors(t *testing.T) {
	path := MustWriteFile(t, "divide.dasm", divideProgram)
	bad := MustWriteFile(t, "bad.dasm", "func main\n jump nowhere\nend\n")

	for _, tt := range []struct {
		name string
		args []string
		err  string
	}{
		{"NoProgram", []string{"explore"}, "program required"},
		{"TooMany", []string{"explore", path, path}, "too many programs specified"},
		{"BadInput", []string{"explore", "-input", "x", path}, `invalid value "x" for flag -input: expected name=kind:value: "x"`},
		{"BadStrategy", []string{"explore", "-strategy", "upward", path}, `diver: unknown strategy: "upward"`},
		{"ParseError", []string{"explore", bad}, bad + ": vm: line 2: undefined label: nowhere"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tt.args, &stdout, &stderr)
			require.Error(t, err)
			assert.Equal(t, tt.err, err.Error())
		})
	}
}

// Ensure the metrics server shuts down cleanly and only a failed shutdown is logged.
func TestServeMetrics_Shutdown(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	shutdown := serveMetrics("127.0.0.1:0", bus.NewBroker(), logger)
	shutdown()

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, "[metrics] shutdown", e.Message)
		assert.True(t, e.Level > logrus.WarnLevel, "unexpected %s entry: %s", e.Level, e.Message)
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &stdout, &stderr))
	assert.Equal(t, "diver dev\n", stdout.String())
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, flag.ErrHelp, run(context.Background(), nil, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stderr.String(), "Diver is a concolic test generator"))

	assert.EqualError(t, run(context.Background(), []string{"frob"}, &stdout, &stderr), "diver frob: unknown command")
}

// MustWriteFile writes a file to a temporary directory and returns its path.
func MustWriteFile(tb testing.TB, name, data string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		tb.Fatal(err)
	}
	return path
}
