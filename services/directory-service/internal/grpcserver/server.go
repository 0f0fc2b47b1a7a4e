//go:build protogen

package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	directoryv1 "github.com/clinicbook/clinicbook/protos/gen/directory/v1"
	"github.com/clinicbook/clinicbook/services/directory-service/internal/storage"
)

type server struct {
	directoryv1.UnimplementedDirectoryServiceServer
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, repo *storage.Repository) {
	directoryv1.RegisterDirectoryServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) GetDoctor(ctx context.Context, req *directoryv1.GetDoctorRequest) (*directoryv1.GetDoctorResponse, error) {
	d, err := s.repo.GetDoctor(ctx, req.GetDoctorId())
	if err != nil {
		return nil, mapError(err)
	}
	return &directoryv1.GetDoctorResponse{
		DoctorId:  d.ID,
		FullName:  d.FullName,
		Specialty: d.Specialty,
	}, nil
}

func (s *server) GetSchedule(ctx context.Context, req *directoryv1.GetScheduleRequest) (*directoryv1.GetScheduleResponse, error) {
	sched, err := s.repo.GetSchedule(ctx, req.GetDoctorId())
	if err != nil {
		return nil, mapError(err)
	}
	return &directoryv1.GetScheduleResponse{
		DoctorId:       sched.DoctorID,
		OpeningMinutes: int32(sched.OpeningMinutes),
		ClosingMinutes: int32(sched.ClosingMinutes),
		SlotMinutes:    int32(sched.SlotMinutes),
	}, nil
}

func mapError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return status.Error(codes.NotFound, "doctor not found")
	}
	return status.Error(codes.Internal, "internal error")
}
