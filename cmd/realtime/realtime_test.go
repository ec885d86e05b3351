package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/conf"
)

func TestCommandFlags(t *testing.T) {
	settings := &conf.Settings{}
	cmd := Command(settings)

	for _, flag := range []string{"source", "backend", "gain", "webserver", "listen"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
	require.NoError(t, cmd.Flags().Set("source", "USB Audio"))
	assert.Equal(t, "USB Audio", settings.Audio.Source)
}
