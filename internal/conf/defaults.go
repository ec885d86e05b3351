// conf/defaults.go default values for settings
package conf

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults shared with code that builds settings without viper.
const (
	DefaultSampleRate      = 16000
	DefaultQuantumSize     = 128
	DefaultFramesPerSignal = 7
	DefaultRegionBytes     = 4096
	DefaultMaxRegionBytes  = 1 << 20
	DefaultAudioGain       = 5.0

	envPrefix = "HOTWORD"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "hotword-go")
	v.SetDefault("main.log.defaultlevel", "info")
	v.SetDefault("main.log.console.enabled", true)
	v.SetDefault("main.log.console.level", "info")
	v.SetDefault("main.log.fileoutput.enabled", false)
	v.SetDefault("main.log.fileoutput.path", "logs/hotword.log")
	v.SetDefault("main.log.fileoutput.level", "info")

	v.SetDefault("audio.source", "default")
	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.samplerate", DefaultSampleRate)
	v.SetDefault("audio.quantumsize", DefaultQuantumSize)
	v.SetDefault("audio.framespersignal", DefaultFramesPerSignal)
	v.SetDefault("audio.regionbytes", DefaultRegionBytes)
	v.SetDefault("audio.maxregionbytes", DefaultMaxRegionBytes)
	v.SetDefault("audio.clamp", true)
	v.SetDefault("audio.inputgain", 1.0)
	v.SetDefault("audio.dcblock", true)

	v.SetDefault("detector.engine", "energy")
	v.SetDefault("detector.baseurl", "")
	v.SetDefault("detector.resourceurl", "common.resources")
	v.SetDefault("detector.modelurl", "hotword.tflite")
	v.SetDefault("detector.storagepath", "data/hotword")
	v.SetDefault("detector.gain", DefaultAudioGain)
	v.SetDefault("detector.sensitivity", 0.5)
	v.SetDefault("detector.frontend", false)
	v.SetDefault("detector.threads", 0)
	v.SetDefault("detector.labels", []string{"hotword"})
	v.SetDefault("detector.energy.threshold", 3000.0)
	v.SetDefault("detector.energy.silencefloor", 200.0)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", "127.0.0.1:8080")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "hotword/results")
	v.SetDefault("mqtt.clientid", "hotword-go")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.title", "Hotword detected")
	v.SetDefault("notification.mininterval", 30*time.Second)

	v.SetDefault("output.sqlite.enabled", false)
	v.SetDefault("output.sqlite.path", "hotword.db")

	v.SetDefault("telemetry.sentry.enabled", false)
	v.SetDefault("telemetry.sentry.dsn", "")
}

// bindEnv maps HOTWORD_AUDIO_SOURCE style variables onto nested keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
