package buildsys

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

// recorder tracks task executions across goroutines
type recorder struct {
	lock  sync.Mutex
	order []string
	count map[string]int
}

func newRecorder() *recorder {
	return &recorder{count: make(map[string]int)}
}

func (r *recorder) record(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.order = append(r.order, name)
	r.count[name]++
}

func (r *recorder) executed() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]string{}, r.order...)
}

func (r *recorder) times(name string) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.count[name]
}

func (r *recorder) index(name string) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	for idx, item := range r.order {
		if item == name {
			return idx
		}
	}
	return -1
}

// action returns a task action which records its execution and fails with err
func (r *recorder) action(name string, err error) func(context.Context) error {
	return func(ctx context.Context) error {
		r.record(name)
		return err
	}
}
