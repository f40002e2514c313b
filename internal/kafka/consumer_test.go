package kafka

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	commits []int64
	closed  bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func TestConsumer_Start(t *testing.T) {
	t.Parallel()

	t.Run("commits only after the handler succeeds", func(t *testing.T) {
		fr := &fakeReader{msgs: []kafka.Message{
			{Offset: 1}, {Offset: 2}, {Offset: 3},
		}}
		c := &Consumer{r: fr, workers: 1}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
				if m.Offset == 2 {
					return fmt.Errorf("claim failed")
				}
				if m.Offset == 3 {
					defer cancel()
				}
				return nil
			})
		}()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("expected clean shutdown, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("consumer did not stop")
		}

		// the failed message's offset stays uncommitted so it redelivers
		if got, want := fr.committed(), []int64{1, 3}; !reflect.DeepEqual(got, want) {
			t.Fatalf("expected commits %v, got %v", want, got)
		}
		if !fr.closed {
			t.Fatalf("expected reader closed")
		}
	})

	t.Run("fetch errors surface when ctx is live", func(t *testing.T) {
		fr := &errReader{}
		c := &Consumer{r: fr, workers: 1}

		if err := c.Start(context.Background(), func(context.Context, kafka.Message) error { return nil }); err == nil {
			t.Fatalf("expected fetch error")
		}
	})
}

type errReader struct{}

func (errReader) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, fmt.Errorf("broker gone")
}
func (errReader) CommitMessages(context.Context, ...kafka.Message) error { return nil }
func (errReader) Close() error                                           { return nil }
