package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var planPayloads = map[string]string{
	"start.bin":   "S",
	"graph.a.bin": "A",
	"graph.b.bin": "B",
	"ping.bin":    "P",
}

func TestPlanText(t *testing.T) {
	path := writeRuleDoc(t, planYAML, planPayloads)

	buf := &bytes.Buffer{}
	cmd := NewPlanCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	g := goldie.New(t)
	g.Assert(t, "plan", buf.Bytes())
}

func TestPlanJSON(t *testing.T) {
	path := writeRuleDoc(t, planYAML, planPayloads)

	buf := &bytes.Buffer{}
	cmd := NewPlanCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--format", "json"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string     `json:"status"`
		Data   PlanReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Entries, 4)
	assert.Equal(t, "request-response", resp.Data.Entries[2].Kind)
	assert.Equal(t, []string{"graph.a.bin", "graph.b.bin"}, resp.Data.Entries[1].Files)
	assert.Empty(t, resp.Data.Entries[3].Files)
	assert.Equal(t, []PlanGroup{
		{Trigger: 0, Bursts: 1},
		{Trigger: 1, Rotations: 1, Responders: 1},
	}, resp.Data.Groups)
}

func TestPlanRejectsUnknownFormat(t *testing.T) {
	cmd := NewPlanCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"rules.yaml", "--format", "xml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
