package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlansShowsLayoutBuckets(t *testing.T) {
	out, err := execute(t, "plans", "--nodes", "3", "--ppn", "8", "--collective", "bcast")
	require.NoError(t, err)
	require.Contains(t, out, "bucket 4")
	require.Contains(t, out, "bucket 8")
	require.Contains(t, out, "bcast")
	require.NotContains(t, out, "allreduce")

	_, err = execute(t, "plans", "--nodes", "0")
	require.Error(t, err)
	_, err = execute(t, "plans", "--collective", "alltoall")
	require.Error(t, err)
}

func TestAlgorithmsListsEveryCollective(t *testing.T) {
	out, err := execute(t, "algorithms")
	require.NoError(t, err)
	for _, name := range []string{"van_de_geijn", "recursive_doubling", "ring_hpl", "na_rd_knomial"} {
		require.Contains(t, out, name)
	}
}

func TestConfigOverridesShowInPlans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collective.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: error
policies:
  barrier:
    - {id: 7, min: 0, max: max, score: 0th}
`), 0o600))

	out, err := execute(t, "--config", path, "plans", "--collective", "barrier", "--nodes", "2", "--ppn", "4")
	require.NoError(t, err)
	require.Contains(t, out, "override")
	require.Contains(t, out, "sa_knomial")

	out, err = execute(t, "--config", path, "config")
	require.NoError(t, err)
	require.Contains(t, out, "log_level: error")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "algorithms")
	require.Error(t, err)
}

func TestRunReportsEveryCollective(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collective.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: error\n"), 0o600))

	for _, backend := range []string{"prometheus", "otel"} {
		out, err := execute(t, "--config", path, "run", "--ranks", "6", "--nodes", "2",
			"--count", "16", "--iterations", "2", "--metrics", backend)
		require.NoError(t, err, backend)
		require.True(t, strings.HasPrefix(out, "run "), out)
		for _, name := range []string{"bcast", "allreduce", "allgatherv", "scatterv", "gatherv", "reduce", "barrier"} {
			require.Contains(t, out, name)
		}
		require.Contains(t, out, "84 completed")
		require.Contains(t, out, "collective")
	}

	_, err := execute(t, "--config", path, "run", "--metrics", "statsd")
	require.Error(t, err)
}
