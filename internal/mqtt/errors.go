package mqtt

import "codeberg.org/mutker/vawtctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("mqtt_invalid_config")
	ErrConnect       = errors.ErrorCode("mqtt_connect_failed")
	ErrEncode        = errors.ErrorCode("mqtt_encode_failed")
	ErrPublish       = errors.ErrPublishFailed
)
