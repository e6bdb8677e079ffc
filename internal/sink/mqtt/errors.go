package mqtt

import "errors"

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrTimeout          = errors.New("mqtt: operation timed out")
)
