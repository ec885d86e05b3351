package logger

// LoggingConfig is the main.log section of the configuration.
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultlevel" mapstructure:"defaultlevel"`
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`
	FileOutput   *FileOutput       `yaml:"fileoutput" mapstructure:"fileoutput"`
	ModuleLevels map[string]string `yaml:"modulelevels" mapstructure:"modulelevels"` // keyed by dotted module name
}

// ConsoleOutput writes text to stdout. Timestamps are left to journald or
// the container runtime.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput appends JSON lines to Path.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// Defaults shared with conf/defaults.go.
const (
	DefaultLogLevel = "info"
	DefaultLogPath  = "logs/hotword.log"
)

// withDefaults returns a copy with nil sections filled in.
func (c *LoggingConfig) withDefaults() LoggingConfig {
	out := *c
	if out.DefaultLevel == "" {
		out.DefaultLevel = DefaultLogLevel
	}
	if out.Console == nil {
		out.Console = &ConsoleOutput{Enabled: true, Level: out.DefaultLevel}
	}
	if out.FileOutput == nil {
		out.FileOutput = &FileOutput{Path: DefaultLogPath, Level: out.DefaultLevel}
	}
	return out
}
