package worker

import (
	"context"
	"errors"
)

// MultiSink forwards a poison message to every sink and joins their errors.
type MultiSink []DeadLetterSink

func (m MultiSink) Quarantine(ctx context.Context, msg PoisonMessage) error {
	var errs []error
	for _, s := range m {
		if err := s.Quarantine(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
