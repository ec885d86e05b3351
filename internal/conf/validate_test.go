package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings(t *testing.T) *Settings {
	t.Helper()
	settings, err := unmarshalSettings(newTestViper(t))
	require.NoError(t, err)
	return settings
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"defaults are valid", func(s *Settings) {}, ""},
		{"zero quantum", func(s *Settings) { s.Audio.QuantumSize = 0 }, "audio.quantumsize"},
		{"region not multiple of 4", func(s *Settings) { s.Audio.RegionBytes = 4097 }, "multiple of 4"},
		{"region over platform limit", func(s *Settings) {
			s.Audio.RegionBytes = 8192
			s.Audio.MaxRegionBytes = 4096
		}, "exceeds audio.maxregionbytes"},
		{"signal does not fit region", func(s *Settings) { s.Audio.FramesPerSignal = 9 }, "region holds 4096"},
		{"exact fit is fine", func(s *Settings) { s.Audio.FramesPerSignal = 8 }, ""},
		{"input gain too high", func(s *Settings) { s.Audio.InputGain = 12 }, "audio.inputgain"},
		{"unknown engine", func(s *Settings) { s.Detector.Engine = "snowboy" }, "detector.engine"},
		{"sensitivity out of range", func(s *Settings) { s.Detector.Sensitivity = 1.5 }, "detector.sensitivity"},
		{"tflite needs model", func(s *Settings) {
			s.Detector.Engine = "tflite"
			s.Detector.ModelURL = ""
		}, "detector.modelurl"},
		{"energy threshold below floor", func(s *Settings) { s.Detector.Energy.Threshold = 100 }, "detector.energy.threshold"},
		{"bad listen address", func(s *Settings) { s.WebServer.Listen = "8080" }, "webserver.listen"},
		{"disabled webserver ignores listen", func(s *Settings) {
			s.WebServer.Enabled = false
			s.WebServer.Listen = "nonsense"
		}, ""},
		{"mqtt without broker", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = ""
		}, "mqtt.broker"},
		{"notifications without urls", func(s *Settings) { s.Notification.Enabled = true }, "notification.urls"},
		{"bad module level", func(s *Settings) {
			s.Main.Log.ModuleLevels = map[string]string{"bridge": "loud"}
		}, "main.log.modulelevels.bridge"},
		{"unknown backend", func(s *Settings) { s.Audio.Backend = "jack" }, "audio.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings(t)
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ve ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	s := validSettings(t)
	s.Audio.SampleRate = 0
	s.Detector.Gain = 0

	err := ValidateSettings(s)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}
