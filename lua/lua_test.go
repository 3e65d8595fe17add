package lua

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/devsim/types"
)

var sampleRules = types.RuleSet{
	WaitToStart: true,
	Rules: []types.Rule{
		{Pattern: `start\.1\.bin`, DelayMs: 0, Repeat: 2, WaitCount: 0},
		{Pattern: `graph\..*\.bin`, DelayMs: 200, Repeat: 0, WaitCount: 2},
	},
}

func TestWriteRuleSetGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRuleSet(&buf, sampleRules))

	g := goldie.New(t)
	g.Assert(t, "rules", buf.Bytes())
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteRuleSet(f, sampleRules))
	require.NoError(t, f.Close())

	doc, err := ReadLuaDocument(path)
	require.NoError(t, err)
	assert.True(t, doc.WaitToStart)
	require.Len(t, doc.Messages, 2)

	m := doc.Messages[1]
	assert.Equal(t, `graph\..*\.bin`, m.FileName)
	require.NotNil(t, m.Delay)
	require.NotNil(t, m.Repeat)
	require.NotNil(t, m.WaitCount)
	assert.Equal(t, 200, *m.Delay)
	assert.Equal(t, 0, *m.Repeat)
	assert.Equal(t, 2, *m.WaitCount)
}

func TestReadOmittedFieldsStayNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	src := `return { messages = { { file_name = "a\\.bin" } } }`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	doc, err := ReadLuaDocument(path)
	require.NoError(t, err)
	require.Len(t, doc.Messages, 1)
	assert.Equal(t, `a\.bin`, doc.Messages[0].FileName)
	assert.Nil(t, doc.Messages[0].Delay)
	assert.Nil(t, doc.Messages[0].Repeat)
	assert.Nil(t, doc.Messages[0].WaitCount)
	assert.False(t, doc.WaitToStart)
}

func TestReadLegacyReplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	src := `return {
		receive_count = 1,
		replies = {
			{ reply_number = 1, messages = { { file_name = "r1", ["repeat"] = 1 } } },
			{ reply_number = 2, messages = { { file_name = "r2", ["repeat"] = 0, delay = 50 } } },
		},
	}`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	doc, err := ReadLuaDocument(path)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ReceiveCount)
	require.Len(t, doc.Replies, 2)
	assert.Equal(t, 2, doc.Replies[1].Number)
	assert.Equal(t, "r2", doc.Replies[1].Messages[0].FileName)
}

func TestReadNotATable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	require.NoError(t, os.WriteFile(path, []byte(`return 42`), 0o600))

	_, err := ReadLuaDocument(path)
	assert.Error(t, err)
}

func TestReadSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	require.NoError(t, os.WriteFile(path, []byte(`return {`), 0o600))

	_, err := ReadLuaDocument(path)
	assert.Error(t, err)
}

func TestSaveToDirPicksFreeName(t *testing.T) {
	dir := t.TempDir()

	first, err := SaveToDir(sampleRules, dir, "/captures/session.pcap")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_1.lua"), first)

	second, err := SaveToDir(sampleRules, dir, "/captures/session.pcap")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_2.lua"), second)

	doc, err := ReadLuaDocument(second)
	require.NoError(t, err)
	assert.Len(t, doc.Messages, 2)
}
