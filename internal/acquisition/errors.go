package acquisition

import "codeberg.org/mutker/vawtctl/internal/errors"

const (
	ErrMalformedLine = errors.ErrorCode("acquisition_malformed_line")
	ErrOpenPort      = errors.ErrorCode("acquisition_open_port_failed")
	ErrWritePort     = errors.ErrorCode("acquisition_write_port_failed")
	ErrInvalidPlant  = errors.ErrorCode("acquisition_invalid_plant")
	ErrSourceFailed  = errors.ErrSourceFailed
)
