package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/exchange"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	root := New(&logs).RootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	t.Log(logs.String())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}

// fixture writes a small dependency graph as tabular files.
func fixture(t *testing.T) (nodes, edges string) {
	dir := t.TempDir()
	nodes = writeFile(t, dir, "nodes.tsv", strings.Join([]string{
		"__kg.id\tversion",
		"\"app\"\t\"1.0\"",
		"\"lib\"\t\"2.1\"",
		"\"core\"\t",
		"broken",
	}, "\n")+"\n")
	edges = writeFile(t, dir, "edges.tsv", strings.Join([]string{
		"__kg.id",
		"[\"app\",\"lib\",\"deps:uses\"]",
		"[\"lib\",\"core\",\"deps:uses\"]",
		"[\"app\",\"core\",\"deps:pins\"]",
	}, "\n")+"\n")
	return nodes, edges
}

func TestImportStatsCompact(t *testing.T) {
	nodes, edges := fixture(t)
	data := t.TempDir()
	local := []string{"--backend", "engine", "--data-dir", data}

	out, err := run(t, append([]string{"import", nodes, edges}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportStats{Nodes: 3, Edges: 3, Skipped: 1}, decodeOutput[exchange.ImportStats](t, out))

	out, err = run(t, append([]string{"stats"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 3, Edges: 3}, decodeOutput[storage.Stats](t, out), "journal replayed on reopen")

	_, err = run(t, append([]string{"compact"}, local...)...)
	require.NoError(t, err)

	out, err = run(t, append([]string{"stats"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 3, Edges: 3}, decodeOutput[storage.Stats](t, out))
}

func TestCompactNeedsJournal(t *testing.T) {
	_, err := run(t, "compact", "--backend", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal")
}

func TestExportGraphMLIntoBadger(t *testing.T) {
	nodes, edges := fixture(t)
	engineDir, badgerDir := t.TempDir(), t.TempDir()
	doc := filepath.Join(t.TempDir(), "graph.graphml")

	_, err := run(t, "import", "--backend", "engine", "--data-dir", engineDir, nodes, edges)
	require.NoError(t, err)
	_, err = run(t, "export", "-f", "graphml", "--backend", "engine", "--data-dir", engineDir, doc)
	require.NoError(t, err)

	out, err := run(t, "import", "-f", "graphml", "--backend", "badger", "--data-dir", badgerDir, doc)
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportStats{Nodes: 3, Edges: 3}, decodeOutput[exchange.ImportStats](t, out))

	out, err = run(t, "stats", "--backend", "badger", "--data-dir", badgerDir)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Nodes: 3, Edges: 3}, decodeOutput[storage.Stats](t, out))
}

func TestAnalyzeAndPath(t *testing.T) {
	nodes, edges := fixture(t)
	data := t.TempDir()
	local := []string{"--backend", "engine", "--data-dir", data, "--graph", "deps"}
	_, err := run(t, append([]string{"import", nodes, edges}, local...)...)
	require.NoError(t, err)

	out, err := run(t, append([]string{"analyze"}, local...)...)
	require.NoError(t, err)
	report := decodeOutput[struct {
		Nodes  int
		Edges  int
		Cycles [][]storage.NodeID
		Order  []storage.NodeID
	}](t, out)
	assert.Equal(t, 3, report.Nodes)
	assert.Equal(t, 3, report.Edges)
	assert.Empty(t, report.Cycles)
	assert.Equal(t, []storage.NodeID{"app", "lib", "core"}, report.Order)

	out, err = run(t, append([]string{"path", "app", "core"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, "app -> core\n", out)

	out, err = run(t, append([]string{"path", "app", "core", "--types", "uses"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, "app -> lib -> core\n", out)
}

func TestImportDryRunLeavesStorageUntouched(t *testing.T) {
	nodes, edges := fixture(t)
	data := t.TempDir()
	local := []string{"--backend", "engine", "--data-dir", data}

	out, err := run(t, append([]string{"import", "--dry-run", nodes, edges}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, exchange.ImportStats{Nodes: 3, Edges: 3, Skipped: 1}, decodeOutput[exchange.ImportStats](t, out))

	out, err = run(t, append([]string{"stats"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{}, decodeOutput[storage.Stats](t, out))
}

func TestLabels(t *testing.T) {
	nodes, edges := fixture(t)
	data := t.TempDir()
	local := []string{"--backend", "engine", "--data-dir", data, "--graph", "deps"}
	_, err := run(t, append([]string{"import", nodes, edges}, local...)...)
	require.NoError(t, err)

	_, err = run(t, append([]string{"labels", "set", "patch", "up=minor"}, local...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"labels", "set", "minor", "up=major"}, local...)...)
	require.NoError(t, err)

	out, err := run(t, append([]string{"labels", "compare", "patch", "major"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, "greater\n", out)
	out, err = run(t, append([]string{"labels", "compare", "major", "minor"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, "less\n", out)

	// parents are fixed once
	_, err = run(t, append([]string{"labels", "set", "patch", "up=major"}, local...)...)
	require.Error(t, err)
	_, err = run(t, append([]string{"labels", "set", "major", "up=patch"}, local...)...)
	require.Error(t, err, "cycle")
	_, err = run(t, append([]string{"labels", "compare", "patch", "nosuch"}, local...)...)
	require.Error(t, err)

	_, err = run(t, append([]string{"labels", "tag", "app", "lib", "uses", "patch"}, local...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"labels", "tag", "app", "nosuch", "uses", "patch"}, local...)...)
	require.ErrorIs(t, err, storage.ErrEntityNotExist)

	type info struct {
		Name    string
		Parents map[string]string
		Changes []storage.EdgeID
	}
	out, err = run(t, append([]string{"labels", "list"}, local...)...)
	require.NoError(t, err)
	assert.Equal(t, []info{
		{Name: "major"},
		{Name: "minor", Parents: map[string]string{"up": "major"}},
		{Name: "patch", Parents: map[string]string{"up": "minor"}, Changes: []storage.EdgeID{
			storage.NewEdgeID("app", "lib", "deps:uses"),
		}},
	}, decodeOutput[[]info](t, out))

	_, err = run(t, append([]string{"labels", "tag", "app", "lib", "uses"}, local...)...)
	require.NoError(t, err)
	out, err = run(t, append([]string{"labels", "list"}, local...)...)
	require.NoError(t, err)
	got := decodeOutput[[]info](t, out)
	require.Len(t, got, 3)
	assert.Empty(t, got[2].Changes)
}

func TestArgumentErrors(t *testing.T) {
	nodes, _ := fixture(t)

	_, err := run(t, "import", "-f", "csv", "--backend", "memory", nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")

	_, err = run(t, "import", "-f", "graphml", "--backend", "memory", nodes, nodes)
	require.Error(t, err)

	_, err = run(t, "stats", "--backend", "nosuch")
	require.Error(t, err)

	cfg := writeFile(t, t.TempDir(), "bad.yaml", "backend: memory\nbogus: 1\n")
	_, err = run(t, "stats", "--config", cfg)
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "kg.yaml", "backend: memory\nlog_level: warn\n")
	out, err := run(t, "stats", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{}, decodeOutput[storage.Stats](t, out))
}

func TestWatchConfigReloadsLogLevel(t *testing.T) {
	path := writeFile(t, t.TempDir(), "kg.yaml", "backend: memory\nlog_level: info\n")
	c := New(io.Discard)
	c.configPath = path
	require.NoError(t, c.setup(nil, nil))
	require.Equal(t, log.InfoLevel, c.Logger.GetLevel())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.watchConfig(ctx, path) }()

	// A broken edit keeps the current level.
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\nlog_level: loud\n"), 0o644))

	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("backend: memory\nlog_level: warn\n"), 0o644)
		return c.Logger.GetLevel() == log.WarnLevel
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestLogFormatter(t *testing.T) {
	assert.Equal(t, log.TextFormatter, formatterFor(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, log.LogfmtFormatter, formatterFor(f), "plain files get logfmt")
}
