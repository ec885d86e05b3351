package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/conf"
)

func TestRootCommandLayout(t *testing.T) {
	root := RootCommand(&conf.Settings{})

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"realtime", "file", "devices", "config", "version"}, names)

	for _, flag := range []string{"debug", "engine", "sensitivity", "labels", "sqlite"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionSkipsConfiguration(t *testing.T) {
	root := RootCommand(&conf.Settings{})

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "hotword ")
}

func TestFileRequiresInput(t *testing.T) {
	root := RootCommand(&conf.Settings{})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"file"})
	require.Error(t, root.Execute())
}

func TestSetupFlagsBindsGlobalFlags(t *testing.T) {
	settings := &conf.Settings{}
	cmd := &cobra.Command{Use: "hotword"}
	require.NoError(t, setupFlags(cmd, settings))

	require.NoError(t, cmd.PersistentFlags().Set("sensitivity", "0.7"))
	assert.InDelta(t, 0.7, settings.Detector.Sensitivity, 1e-9)
}
