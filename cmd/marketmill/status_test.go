package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusShowsPendingAndDoneSteps(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	writeManifest(t, dir, "tickers_v1")

	out, err := executeCommand(t, "status", "--config", cfgPath)
	require.NoError(t, err)

	require.Contains(t, out, "ID")
	require.Contains(t, out, "TARGET")
	require.Contains(t, out, "DEPENDS")
	require.Regexp(t, `tickers_v1\s+tickers\s+-\s+done`, out)
	require.Regexp(t, `prices_v2\s+prices\s+tickers\s+pending`, out)
	require.Contains(t, out, "2.0s")
}

func TestStatusJSON(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	writeManifest(t, dir, "tickers_v1")

	out, err := executeCommand(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var payload statusJSONPayload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, len(pipelineIDs), payload.Count)
	require.Len(t, payload.Steps, len(pipelineIDs))

	byID := map[string]stepStatus{}
	for _, step := range payload.Steps {
		byID[step.ID] = step
	}
	require.True(t, byID["tickers_v1"].Done)
	require.InDelta(t, 2.0, byID["tickers_v1"].ElapsedSeconds, 0.01)
	require.False(t, byID["insider_trades_v2"].Done)
	require.Equal(t, []string{"tickers"}, byID["prices_v2"].DependsOn)
}

func TestStatusKeepsRegistrationOrder(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	writeManifest(t, dir)

	out, err := executeCommand(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var payload statusJSONPayload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	for i, step := range payload.Steps {
		require.Equal(t, pipelineIDs[i], step.ID)
	}
}
