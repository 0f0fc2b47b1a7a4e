//go:build protogen

package schedule

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/clinicbook/clinicbook/libs/grpcx"
	directoryv1 "github.com/clinicbook/clinicbook/protos/gen/directory/v1"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// grpcSource asks the directory service for a schedule directly, bypassing
// the local cache. Used for read-your-writes flows in admin tooling.
type grpcSource struct {
	client directoryv1.DirectoryServiceClient
}

func NewGRPCSource(addr string) (booking.ScheduleSource, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcSource{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (s *grpcSource) GetSchedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error) {
	resp, err := s.client.GetSchedule(ctx, &directoryv1.GetScheduleRequest{DoctorId: doctorID})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return model.DoctorSchedule{}, booking.ErrUnknownDoctor
		}
		return model.DoctorSchedule{}, err
	}
	return model.DoctorSchedule{
		DoctorID:    doctorID,
		Opening:     model.TimeOfDay(resp.GetOpeningMinutes()),
		Closing:     model.TimeOfDay(resp.GetClosingMinutes()),
		SlotMinutes: int(resp.GetSlotMinutes()),
	}, nil
}
