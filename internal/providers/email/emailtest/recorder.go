// Package emailtest provides an in-memory email.Provider for tests.
package emailtest

import (
	"context"
	"sync"

	"github.com/Pasandul2/ZORO9X-sub000/internal/providers/email"
)

// Recorder captures every message it is asked to send. When Err is set the
// message is still captured and Err is returned.
type Recorder struct {
	mu       sync.Mutex
	messages []email.Message
	Err      error
}

func (r *Recorder) Send(ctx context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

func (r *Recorder) Messages() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]email.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}
