package main

import (
	"testing"

	"github.com/cuemby/corral/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"instance_id=i-1", "vcpus=4", "availability_zone=nova:host1"})
	require.NoError(t, err)
	assert.Equal(t, rpc.Args{
		"instance_id":       "i-1",
		"vcpus":             int64(4),
		"availability_zone": "nova:host1",
	}, args)

	_, err = parseArgs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseArgs([]string{"=x"})
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"worker"},
		{"call"},
		{"config"},
		{"zones"},
		{"service", "disable"},
		{"service", "delete"},
		{"instance", "create"},
		{"volume", "delete"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
