package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndUsage(t *testing.T) {
	Register("frob", "frobnicate an object", func([]string) {})

	var buf bytes.Buffer
	usage(&buf, "objview")
	out := buf.String()
	require.Contains(t, out, "Usage: objview <command>")
	require.Contains(t, out, "frob")
	require.Contains(t, out, "frobnicate an object")
}
