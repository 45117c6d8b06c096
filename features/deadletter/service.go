package deadletter

import (
	"context"
	"log/slog"

	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

const DefaultListLimit = 100

// Republisher puts a raw payload back on the document stream.
type Republisher interface {
	PublishRaw(ctx context.Context, payload []byte) error
}

type Service struct {
	repo   Repository
	pub    Republisher
	logger *slog.Logger
}

func NewService(repo Repository, pub Republisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

// Quarantine stores a poison message so operators can inspect or replay it.
func (s *Service) Quarantine(ctx context.Context, msg worker.PoisonMessage) error {
	l := &Letter{
		MessageID: msg.MessageID,
		SourceID:  msg.SourceID,
		Consumer:  msg.Consumer,
		Payload:   msg.Payload,
		Error:     msg.Reason,
	}
	if err := s.repo.Save(ctx, l); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "poison message quarantined", "id", l.ID, "message_id", msg.MessageID)
	return nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Letter, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.repo.List(ctx, limit)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Retry republishes the stored payload and removes the letter. A payload that
// is still malformed comes back as a new letter.
func (s *Service) Retry(ctx context.Context, id string) error {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.pub.PublishRaw(ctx, l.Payload); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "dead letter republished", "id", id, "message_id", l.MessageID)
	return s.repo.Delete(ctx, id)
}
