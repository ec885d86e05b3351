// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

var (
	validEngines   = []string{"tflite", "energy"}
	validBackends  = []string{"auto", "alsa", "pulse", "wasapi", "coreaudio", "null"}
	validLogLevels = []string{"trace", "debug", "info", "warn", "error"}
)

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateLogSettings,
		validateAudioSettings,
		validateDetectorSettings,
		validateWebServerSettings,
		validateMQTTSettings,
		validateNotificationSettings,
		validateOutputSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLogSettings(settings *Settings) []string {
	var errs []string
	log := &settings.Main.Log

	check := func(name, level string) {
		if level != "" && !slices.Contains(validLogLevels, strings.ToLower(level)) {
			errs = append(errs, fmt.Sprintf("%s must be one of %v, got %q", name, validLogLevels, level))
		}
	}
	check("main.log.defaultlevel", log.DefaultLevel)
	if log.Console != nil {
		check("main.log.console.level", log.Console.Level)
	}
	if log.FileOutput != nil {
		check("main.log.fileoutput.level", log.FileOutput.Level)
		if log.FileOutput.Enabled && log.FileOutput.Path == "" {
			errs = append(errs, "main.log.fileoutput.path is required when file output is enabled")
		}
	}
	for module, level := range log.ModuleLevels {
		check("main.log.modulelevels."+module, level)
	}

	return errs
}

// validateAudioSettings checks that one signal's worth of quanta fits in the region.
func validateAudioSettings(settings *Settings) []string {
	var errs []string
	a := &settings.Audio

	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Sprintf("audio.samplerate must be positive, got %d", a.SampleRate))
	}
	if a.QuantumSize <= 0 {
		errs = append(errs, fmt.Sprintf("audio.quantumsize must be positive, got %d", a.QuantumSize))
	}
	if a.FramesPerSignal <= 0 {
		errs = append(errs, fmt.Sprintf("audio.framespersignal must be positive, got %d", a.FramesPerSignal))
	}
	if a.RegionBytes <= 0 || a.RegionBytes%4 != 0 {
		errs = append(errs, fmt.Sprintf("audio.regionbytes must be a positive multiple of 4, got %d", a.RegionBytes))
	}
	if a.MaxRegionBytes > 0 && a.RegionBytes > a.MaxRegionBytes {
		errs = append(errs, fmt.Sprintf("audio.regionbytes %d exceeds audio.maxregionbytes %d", a.RegionBytes, a.MaxRegionBytes))
	}
	if a.QuantumSize > 0 && a.FramesPerSignal > 0 && a.RegionBytes > 0 {
		if need := a.LogicalFrames() * 4; need > a.RegionBytes {
			errs = append(errs, fmt.Sprintf("audio.quantumsize × audio.framespersignal needs %d bytes, region holds %d", need, a.RegionBytes))
		}
	}
	if a.InputGain < 0 || a.InputGain > 10 {
		errs = append(errs, fmt.Sprintf("audio.inputgain must be between 0 and 10, got %v", a.InputGain))
	}
	if a.Backend != "" && !slices.Contains(validBackends, strings.ToLower(a.Backend)) {
		errs = append(errs, fmt.Sprintf("audio.backend must be one of %v, got %q", validBackends, a.Backend))
	}

	return errs
}

func validateDetectorSettings(settings *Settings) []string {
	var errs []string
	d := &settings.Detector

	if !slices.Contains(validEngines, strings.ToLower(d.Engine)) {
		errs = append(errs, fmt.Sprintf("detector.engine must be one of %v, got %q", validEngines, d.Engine))
	}
	if d.Sensitivity < 0 || d.Sensitivity > 1 {
		errs = append(errs, fmt.Sprintf("detector.sensitivity must be between 0 and 1, got %v", d.Sensitivity))
	}
	if d.Gain <= 0 {
		errs = append(errs, fmt.Sprintf("detector.gain must be positive, got %v", d.Gain))
	}
	if d.Threads < 0 {
		errs = append(errs, fmt.Sprintf("detector.threads must not be negative, got %d", d.Threads))
	}
	if strings.EqualFold(d.Engine, "tflite") {
		if d.ModelURL == "" {
			errs = append(errs, "detector.modelurl is required for the tflite engine")
		}
		if d.StoragePath == "" {
			errs = append(errs, "detector.storagepath is required for the tflite engine")
		}
	}
	if d.Energy.SilenceFloor < 0 || d.Energy.Threshold <= d.Energy.SilenceFloor {
		errs = append(errs, fmt.Sprintf("detector.energy.threshold (%v) must exceed detector.energy.silencefloor (%v) which must not be negative",
			d.Energy.Threshold, d.Energy.SilenceFloor))
	}

	return errs
}

func validateWebServerSettings(settings *Settings) []string {
	if !settings.WebServer.Enabled {
		return nil
	}

	_, portStr, err := net.SplitHostPort(settings.WebServer.Listen)
	if err != nil {
		return []string{fmt.Sprintf("webserver.listen %q is not host:port: %v", settings.WebServer.Listen, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return []string{fmt.Sprintf("webserver.listen port must be between 1 and 65535, got %q", portStr)}
	}
	return nil
}

func validateMQTTSettings(settings *Settings) []string {
	if !settings.MQTT.Enabled {
		return nil
	}

	var errs []string
	if settings.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when MQTT is enabled")
	}
	if settings.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required when MQTT is enabled")
	}
	return errs
}

func validateNotificationSettings(settings *Settings) []string {
	n := &settings.Notification
	if !n.Enabled {
		return nil
	}

	var errs []string
	if len(n.URLs) == 0 {
		errs = append(errs, "notification.urls needs at least one service URL when notifications are enabled")
	}
	if n.MinInterval < 0 {
		errs = append(errs, fmt.Sprintf("notification.mininterval must not be negative, got %v", n.MinInterval))
	}
	return errs
}

func validateOutputSettings(settings *Settings) []string {
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return []string{"output.sqlite.path is required when SQLite output is enabled"}
	}
	return nil
}
