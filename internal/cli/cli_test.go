package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/store"
)

type testEnv struct {
	configDir string
	dataDir   string
	inputDir  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	t.Setenv("DATA_DIR", "")
	t.Setenv("ETFWATCH_STORE_BACKEND", "")
	t.Setenv("ETFWATCH_LOG_LEVEL", "")

	root := t.TempDir()
	env := testEnv{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
		inputDir:  filepath.Join(root, "in"),
	}
	require.NoError(t, os.MkdirAll(env.configDir, 0755))
	require.NoError(t, os.MkdirAll(env.inputDir, 0755))

	cfg := fmt.Sprintf(`
[data]
dir = %q

[logging]
console = false
file = false

[[funds]]
id = "00980A"
name = "Fund A"

[[funds]]
id = "00981A"
name = "Fund B"

[names]
"3711" = "日月光"
`, env.dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(env.configDir, "config.toml"), []byte(cfg), 0644))
	return env
}

func (e testEnv) writeInput(t *testing.T, name, date string, holdings string) string {
	t.Helper()
	path := filepath.Join(e.inputDir, name)
	content := fmt.Sprintf(`{"data_date": %q, "is_latest": true,
		"price_info": {"price": "15.20", "change_value": "+0.12", "change_percent": "+0.80%%"},
		"holdings": {%s}}`, date, holdings)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (e testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_IngestAndReport(t *testing.T) {
	env := newTestEnv(t)

	day1 := env.writeInput(t, "d1.json", "2025/01/09", `"2330": {"name": "台積電", "count": 1000000, "weight": 9.0},
		"2454": {"name": "聯發科", "count": 100000, "weight": 2.0}`)
	out, err := env.run(t, "", "ingest", "--fund", "00981A", day1)
	require.NoError(t, err, out)
	assert.Contains(t, out, "First snapshot stored")

	day2 := `{"data_date": "2025/01/10", "is_latest": true, "price_info": {"price": "15.30"},
		"holdings": {"2330": {"name": "台積電", "count": 1060000, "weight": 9.4}, "3711": {"count": 80000, "weight": 1.0}}}`
	out, err = env.run(t, day2, "ingest", "--fund", "00981A", "--json", "-")
	require.NoError(t, err, out)

	var batch batchView
	require.NoError(t, json.Unmarshal([]byte(out), &batch))
	require.Len(t, batch.Funds, 1)
	f := batch.Funds[0]
	assert.Equal(t, "compared", f.Outcome)
	assert.Equal(t, "2025/01/09", f.BaselineDate)
	assert.Equal(t, "Fund B", f.FundName)

	var major []string
	for _, c := range f.Major {
		major = append(major, c.Type+":"+c.Code)
	}
	assert.Equal(t, []string{"New:3711", "Removed:2454", "Increased:2330"}, major)

	assert.FileExists(t, filepath.Join(env.dataDir, "processed_etf_data.json"))
	assert.FileExists(t, filepath.Join(env.dataDir, "stock_history_data.json"))

	// The lock is free again once the command returns.
	lock, err := store.AcquireRunLock(env.dataDir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	out, err = env.run(t, "", "report", "--json")
	require.NoError(t, err, out)
	var report map[string]struct {
		DailyChanges []struct {
			Code        string `json:"code"`
			Name        string `json:"name"`
			CountChange int64  `json:"count_change"`
		} `json:"daily_changes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	changes := report["00981A"].DailyChanges
	require.Len(t, changes, 3)
	assert.Equal(t, "2454", changes[0].Code)
	assert.Equal(t, "日月光", changes[1].Name)

	out, err = env.run(t, "", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "00981A Fund B")
	assert.Contains(t, out, "- removed")
}

func TestCLI_BatchIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	env.writeInput(t, "00981A.json", "2025/01/10", `"2330": {"count": 1000000, "weight": 9.0}`)

	out, err := env.run(t, "", "batch", env.inputDir, "--json")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	var batch batchView
	require.NoError(t, json.Unmarshal([]byte(out), &batch))
	require.Len(t, batch.Funds, 2)
	assert.Equal(t, "failed", batch.Funds[0].Outcome)
	assert.NotEmpty(t, batch.Funds[0].Error)
	assert.Equal(t, "bootstrap", batch.Funds[1].Outcome)

	out, err = env.run(t, "", "funds", "--json")
	require.NoError(t, err)
	var funds []fundSummary
	require.NoError(t, json.Unmarshal([]byte(out), &funds))
	require.Len(t, funds, 1)
	assert.Equal(t, "00981A", funds[0].FundID)
	assert.Equal(t, 1, funds[0].Snapshots)
}

func TestCLI_MalformedInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "{not json", "ingest", "--fund", "00981A")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMalformedData))
}

func TestCLI_HistoryAndBaseline(t *testing.T) {
	env := newTestEnv(t)
	for i, d := range []string{"2025/01/09", "2025/01/10", "2025/01/13"} {
		count := []int{20000, 80000, 0}[i]
		holdings := `"2317": {"count": 500000, "weight": 4.0}`
		if count > 0 {
			holdings += fmt.Sprintf(`, "2330": {"name": "台積電", "count": %d, "weight": 1.5}`, count)
		}
		path := env.writeInput(t, fmt.Sprintf("d%d.json", i), d, holdings)
		_, err := env.run(t, "", "ingest", "--fund", "00981A", "--no-artifacts", path)
		require.NoError(t, err)
	}

	out, err := env.run(t, "", "history", "2330", "--json")
	require.NoError(t, err, out)
	var lifecycles []struct {
		FundID  string `json:"fund_id"`
		History []struct {
			Status string `json:"status"`
		} `json:"history"`
		MaxCount int64 `json:"max_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &lifecycles))
	require.Len(t, lifecycles, 1)
	assert.Equal(t, "00981A", lifecycles[0].FundID)
	assert.Equal(t, int64(80), lifecycles[0].MaxCount)
	require.Len(t, lifecycles[0].History, 3)
	assert.Equal(t, "Liquidated", lifecycles[0].History[2].Status)

	out, err = env.run(t, "", "history", "2330")
	require.NoError(t, err)
	assert.Contains(t, out, "Liquidated")

	_, err = env.run(t, "", "history", "0050", "--fund", "00981A")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	out, err = env.run(t, "", "baseline", "--fund", "00981A", "--date", "2025/01/13", "--json")
	require.NoError(t, err)
	var b map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, "2025/01/10", b["baseline_date"])

	out, err = env.run(t, "", "baseline", "--fund", "00980A")
	require.NoError(t, err)
	assert.Contains(t, out, "no baseline")
}

func TestCLI_RebuildRespectsLock(t *testing.T) {
	env := newTestEnv(t)
	held, err := store.AcquireRunLock(env.dataDir)
	require.NoError(t, err)

	_, err = env.run(t, "", "rebuild")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrLocked))

	_, err = env.run(t, "", "rebuild", "--wait", "100ms")
	assert.True(t, apperrors.Is(err, apperrors.ErrLocked))

	require.NoError(t, held.Release())
	out, err := env.run(t, "", "rebuild")
	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(env.dataDir, "processed_etf_data.json"))
}

func TestCLI_StaleLockFileDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.dataDir, 0755))
	stale := filepath.Join(env.dataDir, ".etfwatch.lock")
	require.NoError(t, os.WriteFile(stale, []byte("pid=999999\n"), 0644))

	out, err := env.run(t, "", "rebuild")
	require.NoError(t, err, out)
}

func TestCLI_ConfigAndVersion(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "etfwatch v"+Version)

	out, err = env.run(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = env.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "50,000 shares")
	assert.Contains(t, out, "Fund B")

	out, err = env.run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, env.configDir+"\n", out)
}

func TestCLI_InvalidConfigFails(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.configDir, "config.toml"),
		[]byte("[thresholds]\ncount_major = -5\n[logging]\nconsole = false\nfile = false\n"), 0644))

	_, err := env.run(t, "", "report")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))
}
