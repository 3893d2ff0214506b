package device

import "codeberg.org/mutker/cemctl/internal/errors"

const (
	ErrDevice      = errors.ErrDevice
	ErrTickTimeout = errors.ErrTickTimeout

	ErrNotArmed      = errors.ErrorCode("device_not_armed")
	ErrUnknownDriver = errors.ErrorCode("device_unknown_driver")
)

// OpError describes the device operation that failed.
type OpError struct {
	Op      string
	Channel string
}
