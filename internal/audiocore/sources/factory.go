// Package sources creates audio sources from configuration.
package sources

import (
	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/audiocore/sources/malgo"
	"github.com/tphakala/hotword-go/internal/audiocore/sources/wavfile"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/errors"
)

// Source types.
const (
	TypeSoundcard = "soundcard"
	TypeFile      = "file"
)

// Options select and tune the source.
type Options struct {
	Type  string
	Path  string  // file sources only
	Speed float64 // file sources only, 1 is real time
}

// CreateSource creates an audio source from settings.
func CreateSource(settings *conf.AudioSettings, opts Options) (audiocore.Source, error) {
	switch opts.Type {
	case TypeSoundcard, "malgo", "":
		return malgo.NewSource("soundcard", malgo.Config{
			Device:     settings.Source,
			Backend:    settings.Backend,
			SampleRate: settings.SampleRate,
		})

	case TypeFile:
		return wavfile.NewSource("file", wavfile.Config{
			Path:       opts.Path,
			SampleRate: settings.SampleRate,
			Speed:      opts.Speed,
		})

	default:
		return nil, errors.Newf("unknown source type: %s", opts.Type).
			Component("audiocore").
			Category(errors.CategoryValidation).
			Context("source_type", opts.Type).
			Build()
	}
}

// ListAvailableDevices returns the capture devices of backend.
func ListAvailableDevices(backend string) ([]malgo.DeviceInfo, error) {
	return malgo.ListDevices(backend)
}
