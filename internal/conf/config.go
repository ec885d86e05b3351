// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// AudioSettings controls capture and the producer/consumer handoff.
type AudioSettings struct {
	Source          string  // capture device name or ID, "" or "default" for the system default
	Backend         string  // malgo backend: "auto", "alsa", "wasapi", "coreaudio", "null"
	SampleRate      int     // capture sample rate in Hz
	QuantumSize     int     // samples per producer quantum
	FramesPerSignal int     // quanta accumulated before the consumer is signalled
	RegionBytes     int     // shared region capacity in bytes
	MaxRegionBytes  int     // platform limit for region allocation
	Clamp           bool    // clamp scaled samples to int16 bounds
	InputGain       float64 // capture gain applied before the producer
	DCBlock         bool    // remove DC offset from captured audio
}

// LogicalFrames returns the number of samples one signal carries.
func (a *AudioSettings) LogicalFrames() int {
	return a.QuantumSize * a.FramesPerSignal
}

// EnergySettings configures the level detector.
type EnergySettings struct {
	Threshold    float64 // RMS on the int16 scale that counts as a hit
	SilenceFloor float64 // RMS below which a chunk reports silence
}

// DetectorSettings configures the keyword engine and its resources.
type DetectorSettings struct {
	Engine      string   // "tflite" or "energy"
	BaseURL     string   // base URL resource names are resolved against
	ResourceURL string   // engine resource file, relative to BaseURL or absolute
	ModelURL    string   // keyword model file, relative to BaseURL or absolute
	StoragePath string   // persistent directory downloads are stored in
	Gain        float64  // audio gain applied before detection
	Sensitivity float64  // detection threshold in [0, 1]
	FrontEnd    bool     // enable the engine's audio front end
	Threads     int      // interpreter threads, 0 means auto
	Labels      []string // hotword names, index i is score i+1
	Energy      EnergySettings
}

// WebServerSettings configures the HTTP status and control API.
type WebServerSettings struct {
	Enabled bool
	Listen  string // host:port
}

// MQTTSettings configures the result publisher.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Retain   bool
}

// NotificationSettings configures push notifications on hotword hits.
type NotificationSettings struct {
	Enabled     bool
	URLs        []string      // shoutrrr service URLs
	Title       string        // notification title
	MinInterval time.Duration // minimum time between two notifications
}

// SQLiteSettings configures the detection history store.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// OutputSettings groups persistent outputs.
type OutputSettings struct {
	SQLite SQLiteSettings
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// TelemetrySettings groups telemetry outputs.
type TelemetrySettings struct {
	Sentry SentrySettings
}

// MainSettings contains the node name and logging.
type MainSettings struct {
	Name string
	Log  logger.LoggingConfig
}

// Settings contains all configuration options for hotword-go.
type Settings struct {
	Debug bool

	Main         MainSettings
	Audio        AudioSettings
	Detector     DetectorSettings
	WebServer    WebServerSettings
	MQTT         MQTTSettings
	Notification NotificationSettings
	Output       OutputSettings
	Telemetry    TelemetrySettings

	InputFile string `yaml:"-"` // WAV path for the file command
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings(viper.GetViper())
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// unmarshalSettings decodes and validates the current viper state.
func unmarshalSettings(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, env binding and reads the configuration file,
// writing the embedded default when none exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()
	bindEnv(viper.GetViper())

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, getDefaultConfig(), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("Created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded default configuration.
func getDefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time, cannot be missing
		panic(fmt.Sprintf("embedded config.yaml: %v", err))
	}
	return data
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SyncViper refreshes settings from viper so that bound command line flags win.
func SyncViper(settings *Settings) error {
	fresh, err := unmarshalSettings(viper.GetViper())
	if err != nil {
		return err
	}
	inputFile := settings.InputFile
	*settings = *fresh
	settings.InputFile = inputFile
	return nil
}

// DumpYAML marshals the effective settings, masking secrets.
func DumpYAML(settings *Settings) ([]byte, error) {
	masked := *settings
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = "********"
	}
	if masked.Telemetry.Sentry.DSN != "" {
		masked.Telemetry.Sentry.DSN = "********"
	}
	if len(masked.Notification.URLs) > 0 {
		urls := make([]string, len(masked.Notification.URLs))
		for i := range urls {
			urls[i] = "********"
		}
		masked.Notification.URLs = urls
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}
