package main

import (
	"bytes"
	"testing"

	"github.com/siwa2904/zkattend"
	"github.com/siwa2904/zkattend/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	users := []zkattend.User{{UID: 1, Name: "Alice", ExternalID: "1"}}
	require.NoError(t, render(&buf, "yaml", users))

	var got []zkattend.User
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, users, got)
	assert.Contains(t, buf.String(), "external_id: \"1\"")
}

func TestRenderTable(t *testing.T) {
	name := "ZK-100"
	res := &scanner.Result{
		ID:      "abc",
		Subnet:  "192.168.1.0/24",
		Scanned: 254,
		Devices: []scanner.BiometricDevice{{IP: "192.168.1.10", OpenPorts: []int{80, 4370}, DeviceName: &name}},
	}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, "table", res))
	out := buf.String()
	assert.Contains(t, out, "192.168.1.10")
	assert.Contains(t, out, "80,4370")
	assert.Contains(t, out, "ZK-100")
	assert.Contains(t, out, "1 device(s)")
}

func TestRenderErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, render(&buf, "xml", nil))
	assert.Error(t, render(&buf, "table", 42))
	assert.NoError(t, render(&buf, "json", map[string]int{"a": 1}))
}
