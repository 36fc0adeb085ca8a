package feed

import (
	"context"
	"errors"
	"sync"
)

// Loader загружает актуальную выборку целиком.
type Loader[T any] func(ctx context.Context) ([]T, error)

// Subscription выдаёт последовательность полных снимков выборки.
// Потребитель обязан вызвать Close; после Close канал снимков закрыт, горутина завершена.
type Subscription[T any] struct {
	out    chan []T
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Watch запускает подписку: первый снимок отдаётся сразу, следующие после каждого
// подходящего изменения. Устаревший неотданный снимок заменяется свежим.
func Watch[T any](ctx context.Context, b *Broker, match Matcher, load Loader[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		out:    make(chan []T),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// подписываемся до первой загрузки, чтобы не пропустить изменения между ними
	signal, unsubscribe := b.Subscribe(match)

	go func() {
		defer close(s.done)
		defer close(s.out)
		defer unsubscribe()

		for {
			snapshot, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					s.setErr(err)
				}
				return
			}

			select {
			case s.out <- snapshot:
			case <-signal:
				continue
			case <-ctx.Done():
				return
			}

			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}

// C возвращает канал снимков. Канал закрывается при отмене или ошибке загрузки.
func (s *Subscription[T]) C() <-chan []T {
	return s.out
}

// Err возвращает ошибку загрузки, остановившую подписку.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close отменяет подписку и дожидается завершения горутины. Повторный вызов безопасен.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription[T]) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
