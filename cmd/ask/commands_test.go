package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RISK_CONFIG_FILE", "")

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskInDemoMode(t *testing.T) {
	out, err := run(t, "--demo", "Show me the top 5 highest risk warehouses")
	require.NoError(t, err)
	assert.Contains(t, out, "WH_002")
	assert.Contains(t, out, "(ranking, 4 records")
}

func TestAskPrintsJSON(t *testing.T) {
	out, err := run(t, "--demo", "--json", "Which warehouses are in flood-prone areas without flood protection?")
	require.NoError(t, err)

	var a struct {
		CitedRecords []struct {
			EntityIDs []string `json:"entity_ids"`
		} `json:"cited_records"`
		Fallback bool            `json:"fallback"`
		Trace    json.RawMessage `json:"trace"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	require.Len(t, a.CitedRecords, 1)
	assert.Equal(t, []string{"WH_002"}, a.CitedRecords[0].EntityIDs[:1])
	assert.True(t, a.Fallback)
	assert.Empty(t, a.Trace)
}

func TestAskReportsClarification(t *testing.T) {
	_, err := run(t, "--demo", "What is the meaning of life?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not tell what you are asking about")
}

func TestProfileCommand(t *testing.T) {
	out, err := run(t, "--demo", "profile", "WH_002")
	require.NoError(t, err)
	assert.Contains(t, out, "WH_002: 79.55 (Critical)")
	assert.Contains(t, out, "Recommendations:")

	out, err = run(t, "--demo", "--json", "profile", "WH_003")
	require.NoError(t, err)
	var p risk.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.True(t, p.Score.Degraded)

	_, err = run(t, "--demo", "profile", "ZN_1")
	assert.ErrorContains(t, err, `no warehouse "ZN_1"`)
}

func TestReportCommand(t *testing.T) {
	out, err := run(t, "--demo", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "WAREHOUSE")
	for _, id := range []string{"WH_001", "WH_002", "WH_003", "WH_004"} {
		assert.Contains(t, out, id)
	}
}

func TestSeedNeedsDatabase(t *testing.T) {
	_, err := run(t, "seed")
	assert.ErrorContains(t, err, "DATABASE_URL")
}
