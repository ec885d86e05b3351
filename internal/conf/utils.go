// conf/utils.go
package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const osWindows = "windows"

var (
	confLogger     logger.Logger
	confLoggerOnce sync.Once
)

// GetLogger returns the conf module logger.
func GetLogger() logger.Logger {
	confLoggerOnce.Do(func() {
		confLogger = logger.Global().Module("conf")
	})
	return confLogger
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
// The first entry is where a default config is created.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			filepath.Join(homeDir, "AppData", "Roaming", "hotword-go"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "hotword-go"),
			"/etc/hotword-go",
		}
	}

	// current directory is searched last so a stray config.yaml doesn't override the user's
	configPaths = append(configPaths, ".")

	return configPaths, nil
}

// FindConfigFile returns the first config.yaml found in the default paths.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Component("conf").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}

// BindFlags binds each named flag to its configuration key so that a flag set
// on the command line overrides the config file and environment.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	names := make([]string, 0, len(keys))
	for key := range keys {
		names = append(names, key)
	}
	sort.Strings(names)

	for _, key := range names {
		flag := flags.Lookup(keys[key])
		if flag == nil {
			return errors.Newf("flag %q not defined", keys[key]).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("key", key).
				Build()
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("key", key).
				Build()
		}
	}
	return nil
}
