package dag

import (
	"time"

	"github.com/meltinfra/bootstrap/notify"
)

// TaskConfig represents Task configuration used by the scheduler engine when
// running the task. Retries of external calls are part of the tasks
// themselves (probe policies), so there is no retry setting in here.
type TaskConfig struct {
	Timeout            time.Duration `json:"timeout"`
	SendAlertOnFailure bool          `json:"sendAlertOnFailure"`

	// Notification sender for that task. By default is nil which mean that
	// notifier set on the scheduler level would be used.
	Notifier notify.Sender `json:"-"`

	AlertOnFailureTemplate notify.Template `json:"-"`
}

// Default task configuration. If not specified otherwise the following
// configuration values would be used for Task execution. The timeout has to
// cover the longest probe policy (ten retries with doubling backoff capped at
// ten minutes).
var DefaultTaskConfig = TaskConfig{
	Timeout:                2 * time.Hour,
	SendAlertOnFailure:     true,
	Notifier:               nil,
	AlertOnFailureTemplate: notify.DefaultFailureTemplate(),
}

// TaskConfigFunc is a family of functions which takes a TaskConfig and
// potentially updates values of given configuration.
type TaskConfigFunc func(*TaskConfig)

// WithTaskTimeout returns TaskConfigFunc for setting a timeout for task
// exection. Zero means no timeout.
func WithTaskTimeout(timeout time.Duration) TaskConfigFunc {
	return func(config *TaskConfig) {
		config.Timeout = timeout
	}
}

// WithCustomNotifier returns TaskConfigFunc for setting a custom notification
// sender for the task.
func WithCustomNotifier(notifier notify.Sender) TaskConfigFunc {
	return func(config *TaskConfig) {
		config.Notifier = notifier
	}
}

// WithAlertTemplate returns TaskConfigFunc for setting failure alert template.
func WithAlertTemplate(tmpl notify.Template) TaskConfigFunc {
	return func(config *TaskConfig) {
		config.AlertOnFailureTemplate = tmpl
	}
}

// WithTaskNotSendAlertsOnFailures is a TaskConfigFunc which sets off sending
// alerts on task failure.
func WithTaskNotSendAlertsOnFailures(config *TaskConfig) {
	config.SendAlertOnFailure = false
}
