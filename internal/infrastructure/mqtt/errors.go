package mqtt

import "errors"

// Sentinel errors. Operation failures wrap one of these together with the
// topic and the underlying broker error; match with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrInvalidQoS        = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic      = errors.New("mqtt: invalid topic")

	// ErrTimeout means the broker did not acknowledge in time. The
	// operation may still complete later.
	ErrTimeout = errors.New("mqtt: timed out waiting for broker")
)
