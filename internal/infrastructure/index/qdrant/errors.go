package qdrant

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return domain.WrapError(domain.ErrForbidden, op, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return domain.WrapError(domain.ErrTemporary, op, err)
	case codes.NotFound:
		return domain.WrapError(domain.ErrNotFound, op, err)
	case codes.InvalidArgument:
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
