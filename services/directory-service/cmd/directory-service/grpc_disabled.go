//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/clinicbook/clinicbook/services/directory-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *storage.Repository) error {
	return nil
}
