// Package metrics provides Prometheus collectors for hotword-go components.
package metrics

// Metric namespace shared by all collectors.
const namespace = "hotword"

// Operation names recorded through Recorder.
const (
	OpDetectionInsert = "detection_insert"
	OpDetectionQuery  = "detection_query"
	OpNotify          = "notify"
	OpPublish         = "publish"
)

// Operation outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
