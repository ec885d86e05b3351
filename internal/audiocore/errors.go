package audiocore

import (
	"github.com/tphakala/hotword-go/internal/errors"
)

// ComponentAudioCore identifies audiocore errors.
const ComponentAudioCore = "audiocore"

var (
	// ErrSourceActive is returned when starting a source that is already capturing
	ErrSourceActive = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Context("resource", "audio_source").
			Build()

	// ErrInvalidAudioFormat is returned when a source cannot deliver the requested format
	ErrInvalidAudioFormat = errors.New(nil).
				Component(ComponentAudioCore).
				Category(errors.CategoryValidation).
				Context("resource", "audio_format").
				Build()
)
