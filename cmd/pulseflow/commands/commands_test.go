package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseflow/am"
	"github.com/teranos/pulseflow/execution"
)

func TestDescribeExecution(t *testing.T) {
	root := execution.Execution{
		ID:                "pi-1",
		ProcessInstanceID: "pi-1",
		ActivityID:        "merge",
		IsScope:           true,
		WaitState:         execution.WaitScope,
		SequenceCounter:   9,
		CachedEntityState: execution.EntityState(0).With(execution.Tasks),
	}
	assert.Equal(t, "pi-1 @ merge [instance] wait=scope seq=9 related=TASKS", describeExecution(root))

	token := execution.Execution{
		ID:              "ex-2",
		ParentID:        "pi-1",
		ActivityID:      "charge",
		IsConcurrent:    true,
		IsActive:        true,
		SequenceCounter: 5,
	}
	assert.Equal(t, "ex-2 @ charge [concurrent,active] seq=5", describeExecution(token))
}

func TestTreeNode(t *testing.T) {
	tree := &execution.TreeNode{
		Execution: execution.Execution{ID: "pi-1", IsScope: true},
		Children: []*execution.TreeNode{
			{Execution: execution.Execution{ID: "ex-2", ParentID: "pi-1", IsConcurrent: true}},
			{Execution: execution.Execution{ID: "ex-3", ParentID: "pi-1", IsConcurrent: true}},
		},
	}
	node := treeNode(tree)
	require.Len(t, node.Children, 2)
	assert.True(t, strings.HasPrefix(node.Children[1].Text, "ex-3"))
}

func TestFormatConfig(t *testing.T) {
	cfg := &am.Config{
		Database: am.DatabaseConfig{Path: "flows.db"},
		Engine:   am.EngineConfig{DefaultJobRetries: 3, FailedJobRetryTimeCycle: "R5/PT5M"},
	}

	out, err := formatConfig(cfg, "toml")
	require.NoError(t, err)
	assert.Contains(t, out, "[engine]")
	assert.Contains(t, out, "failed_job_retry_time_cycle")
	assert.Contains(t, out, "R5/PT5M")

	out, err = formatConfig(cfg, "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Path": "flows.db"`)

	_, err = formatConfig(cfg, "xml")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "carrier u…", truncate("carrier unreachable", 10))
}
