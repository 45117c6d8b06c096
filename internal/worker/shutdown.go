package worker

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Shutdown is a cooperative stop flag. The consumer loop checks it between
// iterations only, so an in-flight batch always completes.
type Shutdown struct {
	once sync.Once
	done chan struct{}
}

func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

func (s *Shutdown) RequestShutdown() {
	s.once.Do(func() { close(s.done) })
}

func (s *Shutdown) ShouldStop() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed once shutdown has been requested.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// NotifyOnSignals routes SIGINT and SIGTERM to s. The returned func stops
// signal delivery.
func NotifyOnSignals(s *Shutdown) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				slog.Info("shutdown requested, finishing in-flight batch", "signal", sig.String())
				s.RequestShutdown()
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(quit)
		})
	}
}
