package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"total=59.5", "items=3", "express=true", "carrier=night owl", "note="})
	require.NoError(t, err)

	assert.Equal(t, 59.5, vars["total"])
	assert.Equal(t, 3, vars["items"])
	assert.Equal(t, true, vars["express"])
	assert.Equal(t, "night owl", vars["carrier"])
	assert.Equal(t, "", vars["note"])
}

func TestParseVars_RejectsMissingKey(t *testing.T) {
	_, err := parseVars([]string{"=5"})
	assert.Error(t, err)

	_, err = parseVars([]string{"total"})
	assert.Error(t, err)
}
