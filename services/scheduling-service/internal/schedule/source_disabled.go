//go:build !protogen

package schedule

import "github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"

// NewGRPCSource is a no-op unless the repo is built with the protogen tag
// (requires the generated directory stubs). Callers fall back to the
// pg-backed cache when it returns nil.
func NewGRPCSource(_ string) (booking.ScheduleSource, error) {
	return nil, nil
}
