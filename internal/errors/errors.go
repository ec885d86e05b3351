// Package errors wraps failures with a category, the reporting component and
// structured context, and forwards them to telemetry when a reporter is set.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for handling and reporting.
type ErrorCategory string

// Handoff categories.
const (
	CategoryAllocation ErrorCategory = "allocation"   // shared region, scratch and handle allocation
	CategoryBuffer     ErrorCategory = "audio-buffer" // slot bookkeeping
	CategoryDetection  ErrorCategory = "detection"    // engine invocation
	CategoryState      ErrorCategory = "state"        // lifecycle misuse
)

// Audio and model categories.
const (
	CategoryAudioSource ErrorCategory = "audio-source"
	CategoryModelLoad   ErrorCategory = "model-loading"
	CategoryModelInit   ErrorCategory = "model-initialization"
)

// Sink categories.
const (
	CategoryMQTTConnection ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish    ErrorCategory = "mqtt-publish"
	CategoryDatabase       ErrorCategory = "database"
	CategoryHTTP           ErrorCategory = "http-request"
	CategoryIntegration    ErrorCategory = "integration"
)

// General categories.
const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryProcessing    ErrorCategory = "processing"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryLimit         ErrorCategory = "limit"
	CategoryResource      ErrorCategory = "resource"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the caller package cannot be resolved.
const ComponentUnknown = "unknown"

const internalPrefix = "/internal/"

// hasActiveReporting is true while an enabled telemetry reporter is installed.
var hasActiveReporting atomic.Bool

// EnhancedError is an error with a category, component and context.
// It is immutable once built.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

// Error implements error. Sentinels built from a nil error fall back to the
// "error" context value, then the category.
func (ee *EnhancedError) Error() string {
	if ee.Err != nil {
		return ee.Err.Error()
	}
	if msg, ok := ee.Context["error"].(string); ok {
		return msg
	}
	return string(ee.Category)
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, so category sentinels work
// with errors.Is.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return false
}

// GetComponent returns the component that raised the error.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetCategory returns the category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the context.
func (ee *EnhancedError) GetContext() map[string]any {
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen the error.
func (ee *EnhancedError) MarkReported() {
	ee.reported.Store(true)
}

// IsReported reports whether telemetry has seen the error.
func (ee *EnhancedError) IsReported() bool {
	return ee.reported.Load()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an error around err. A nil err is allowed for sentinels.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, component: callerComponent(2)}
}

// Newf starts an error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: fmt.Errorf(format, args...), component: callerComponent(2)}
}

// Component overrides the component derived from the caller's package.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. Without one the category of a wrapped
// EnhancedError is inherited.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a context value.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 4)
	}
	eb.context[key] = value
	return eb
}

// ModelContext records the model format and engine name.
func (eb *ErrorBuilder) ModelContext(modelPath, engine string) *ErrorBuilder {
	if modelPath != "" {
		eb.Context("model_format", extension(modelPath))
	}
	if engine != "" {
		eb.Context("engine", engine)
	}
	return eb
}

// FileContext records the file extension and a size class. The path itself
// is not kept.
func (eb *ErrorBuilder) FileContext(path string, size int64) *ErrorBuilder {
	if path != "" {
		eb.Context("file_extension", extension(path))
	}
	if size > 0 {
		eb.Context("file_size", sizeClass(size))
	}
	return eb
}

// NetworkContext records the URL scheme and the timeout in effect. Host,
// credentials and query are not kept.
func (eb *ErrorBuilder) NetworkContext(rawURL string, timeout time.Duration) *ErrorBuilder {
	if rawURL != "" {
		scheme := "unknown"
		if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		eb.Context("url_scheme", scheme)
	}
	if timeout > 0 {
		eb.Context("timeout_ms", timeout.Milliseconds())
	}
	return eb
}

// Build creates the error and reports it when telemetry is active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.Category == "" {
		ee.Category = inheritedCategory(eb.err)
	}
	if ee.component == "" {
		ee.component = ComponentUnknown
	}

	if hasActiveReporting.Load() {
		reportToTelemetry(ee)
	}
	return ee
}

func inheritedCategory(err error) ErrorCategory {
	var inner *EnhancedError
	if err != nil && stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}
	return CategoryGeneric
}

// callerComponent names the package of the caller skip frames up, e.g.
// "audiocore.producer" for internal/audiocore/producer.
func callerComponent(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	return componentFromFunc(fn.Name())
}

func componentFromFunc(name string) string {
	_, pkg, ok := strings.Cut(name, internalPrefix)
	if !ok {
		return ""
	}
	// package directories under internal/ contain no dots
	pkg, _, _ = strings.Cut(pkg, ".")
	return strings.ReplaceAll(pkg, "/", ".")
}

func extension(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "none"
	}
	return ext
}

// sizeClass buckets sizes around typical model, label and recording files.
func sizeClass(size int64) string {
	switch {
	case size < 64<<10:
		return "under-64k"
	case size < 1<<20:
		return "under-1m"
	case size < 16<<20:
		return "under-16m"
	default:
		return "16m-or-more"
	}
}

// NewStd returns a plain error.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join is errors.Join from the standard library.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether the outermost EnhancedError in err has category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}

// IsNotFound reports whether err is a CategoryNotFound error.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
