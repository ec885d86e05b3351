package conf

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestViper returns an isolated viper with defaults and the embedded config loaded.
func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	require.NoError(t, v.ReadConfig(bytes.NewReader(getDefaultConfig())))
	return v
}

func TestEmbeddedConfigMatchesDefaults(t *testing.T) {
	t.Parallel()

	settings, err := unmarshalSettings(newTestViper(t))
	require.NoError(t, err)

	assert.Equal(t, DefaultSampleRate, settings.Audio.SampleRate)
	assert.Equal(t, DefaultQuantumSize, settings.Audio.QuantumSize)
	assert.Equal(t, DefaultFramesPerSignal, settings.Audio.FramesPerSignal)
	assert.Equal(t, DefaultRegionBytes, settings.Audio.RegionBytes)
	assert.Equal(t, 896, settings.Audio.LogicalFrames())
	assert.True(t, settings.Audio.Clamp)
	assert.InDelta(t, 1.0, settings.Audio.InputGain, 1e-9)
	assert.True(t, settings.Audio.DCBlock)

	assert.Equal(t, "energy", settings.Detector.Engine)
	assert.InDelta(t, DefaultAudioGain, settings.Detector.Gain, 1e-9)
	assert.Equal(t, []string{"hotword"}, settings.Detector.Labels)
	assert.Equal(t, 30*time.Second, settings.Notification.MinInterval)

	assert.Equal(t, "info", settings.Main.Log.DefaultLevel)
	require.NotNil(t, settings.Main.Log.Console)
	assert.True(t, settings.Main.Log.Console.Enabled)
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	t.Parallel()

	v := viper.New()
	setDefaults(v)

	settings, err := unmarshalSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", settings.WebServer.Listen)
	assert.Equal(t, "hotword/results", settings.MQTT.Topic)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HOTWORD_AUDIO_SOURCE", "USB Audio")
	t.Setenv("HOTWORD_DETECTOR_GAIN", "2.5")

	v := newTestViper(t)
	bindEnv(v)

	settings, err := unmarshalSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "USB Audio", settings.Audio.Source)
	assert.InDelta(t, 2.5, settings.Detector.Gain, 1e-9)
}

func TestDumpYAMLMasksSecrets(t *testing.T) {
	t.Parallel()

	settings, err := unmarshalSettings(newTestViper(t))
	require.NoError(t, err)

	settings.MQTT.Password = "hunter2"
	settings.Telemetry.Sentry.DSN = "https://key@sentry.example/1"
	settings.Notification.URLs = []string{"ntfy://token@ntfy.sh/topic"}

	out, err := DumpYAML(settings)
	require.NoError(t, err)

	s := string(out)
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "sentry.example")
	assert.NotContains(t, s, "ntfy.sh")
	assert.Contains(t, s, "samplerate: 16000")

	// the caller's settings stay untouched
	assert.Equal(t, "hunter2", settings.MQTT.Password)
	assert.Equal(t, "ntfy://token@ntfy.sh/topic", settings.Notification.URLs[0])
}

func TestBindFlagsOverridesConfig(t *testing.T) {
	t.Parallel()

	v := newTestViper(t)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("engine", "energy", "")
	flags.Float64("sensitivity", 0.5, "")
	require.NoError(t, BindFlags(v, flags, map[string]string{
		"detector.engine":      "engine",
		"detector.sensitivity": "sensitivity",
	}))

	require.NoError(t, flags.Parse([]string{"--sensitivity", "0.8"}))
	settings, err := unmarshalSettings(v)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, settings.Detector.Sensitivity, 1e-9)
	assert.Equal(t, "energy", settings.Detector.Engine)

	err = BindFlags(v, flags, map[string]string{"audio.source": "source"})
	require.Error(t, err)
}
