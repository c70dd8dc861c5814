// SPDX-License-Identifier: MIT
package classify

import (
	"errors"
	"fmt"
)

var (
	// ErrClassificationService is matched by every failure of the remote
	// classifier after fallback.
	ErrClassificationService = errors.New("classification service error")

	// ErrInvalidUpload is returned when a file is rejected before upload.
	ErrInvalidUpload = errors.New("invalid upload")
)

// ServiceError carries the primary failure and, when the fallback endpoint
// was tried, its failure too. The message keeps the primary detail.
type ServiceError struct {
	Primary  error
	Fallback error
}

func (e *ServiceError) Error() string {
	if e.Fallback == nil {
		return fmt.Sprintf("classification failed: %v", e.Primary)
	}
	return fmt.Sprintf("classification failed: %v (fallback: %v)", e.Primary, e.Fallback)
}

func (e *ServiceError) Unwrap() []error {
	errs := []error{ErrClassificationService, e.Primary}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// responseError is a failure reported by the service itself.
type responseError struct {
	Endpoint string
	Status   int
	Detail   string
}

func (e *responseError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Detail)
}
