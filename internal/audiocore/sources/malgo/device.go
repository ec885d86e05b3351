package malgo

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/tphakala/hotword-go/internal/errors"
)

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Index   int
	Name    string
	ID      string
	Default bool
}

// Backends accepted in configuration.
const (
	BackendAuto      = "auto"
	BackendAlsa      = "alsa"
	BackendPulse     = "pulse"
	BackendWasapi    = "wasapi"
	BackendCoreAudio = "coreaudio"
	BackendNull      = "null"
)

// parseBackend maps a configured backend to malgo backends. "auto" picks the
// platform backend.
func parseBackend(name string) ([]malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "", BackendAuto:
		switch runtime.GOOS {
		case "linux":
			return []malgo.Backend{malgo.BackendAlsa}, nil
		case "windows":
			return []malgo.Backend{malgo.BackendWasapi}, nil
		case "darwin":
			return []malgo.Backend{malgo.BackendCoreaudio}, nil
		default:
			return nil, errors.Newf("no default audio backend for %s", runtime.GOOS).
				Component("audiocore.malgo").
				Category(errors.CategoryAudioSource).
				Context("os", runtime.GOOS).
				Build()
		}
	case BackendAlsa:
		return []malgo.Backend{malgo.BackendAlsa}, nil
	case BackendPulse:
		return []malgo.Backend{malgo.BackendPulseaudio}, nil
	case BackendWasapi:
		return []malgo.Backend{malgo.BackendWasapi}, nil
	case BackendCoreAudio:
		return []malgo.Backend{malgo.BackendCoreaudio}, nil
	case BackendNull:
		return []malgo.Backend{malgo.BackendNull}, nil
	default:
		return nil, errors.Newf("unknown audio backend %q", name).
			Component("audiocore.malgo").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func initContext(backend string, logf func(string)) (*malgo.AllocatedContext, error) {
	backends, err := parseBackend(backend)
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, logf)
	if err != nil {
		return nil, errors.New(err).
			Component("audiocore.malgo").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Context("backend", backend).
			Build()
	}
	return ctx, nil
}

// ListDevices returns the capture devices of backend. The null device is skipped.
func ListDevices(backend string) ([]DeviceInfo, error) {
	ctx, err := initContext(backend, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ctx.Uninit() }()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("audiocore.malgo").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}
	return describe(infos), nil
}

func describe(infos []malgo.DeviceInfo) []DeviceInfo {
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		id, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			id = infos[i].ID.String()
		}
		devices = append(devices, DeviceInfo{
			Index:   i,
			Name:    infos[i].Name(),
			ID:      id,
			Default: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// selectDevice returns the Index of the device matching want. Empty, "default"
// and "sysdefault" pick the system default, falling back to the first device.
// Otherwise an exact name, then an exact decoded ID, then a partial name matches.
func selectDevice(devices []DeviceInfo, want string) (int, error) {
	if len(devices) == 0 {
		return -1, errors.Newf("no audio capture devices found").
			Component("audiocore.malgo").
			Category(errors.CategoryNotFound).
			Context("device_name", want).
			Build()
	}

	if want == "" || want == "default" || want == "sysdefault" {
		for _, d := range devices {
			if d.Default {
				return d.Index, nil
			}
		}
		return devices[0].Index, nil
	}

	for _, d := range devices {
		if d.Name == want {
			return d.Index, nil
		}
	}
	for _, d := range devices {
		if d.ID == want {
			return d.Index, nil
		}
	}
	for _, d := range devices {
		if strings.Contains(d.Name, want) {
			return d.Index, nil
		}
	}

	return -1, errors.Newf("no capture device matches %q", want).
		Component("audiocore.malgo").
		Category(errors.CategoryNotFound).
		Context("device_name", want).
		Context("available_devices", len(devices)).
		Build()
}

// hexToASCII converts a hexadecimal string to an ASCII string
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
