package port

import (
	"context"

	"github.com/avask/ringline/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg *domain.Message) error
}
