package api

import (
	"errors"
	"net/http"

	"github.com/meshrun/meshrun/pkg/orchestrator"
)

// statusFor maps a control-surface error to the HTTP status code that
// best represents it: not-found clusters are 404, invalid transitions
// are 409, everything else is a 500.
func statusFor(err error) int {
	var notFound *orchestrator.ClusterNotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var invalid *orchestrator.InvalidTransitionError
	if errors.As(err, &invalid) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
