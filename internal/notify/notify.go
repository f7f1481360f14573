package notify

import (
	"log/slog"
	"sync"
)

// Notifier delivers a user-facing message. Delivery is best effort; failures
// are the implementation's concern and never reach the caller.
type Notifier interface {
	Notify(title, body string)
}

// Func adapts a function to Notifier.
type Func func(title, body string)

func (f Func) Notify(title, body string) { f(title, body) }

// Log writes notifications to a slog logger. It is the headless default.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(title, body string) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "title", title, "body", body)
}

// Multi fans a notification out to every notifier.
type Multi []Notifier

func (m Multi) Notify(title, body string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, body)
		}
	}
}

// Message is one recorded notification.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Recorder keeps notifications in memory. The HTTP surface exposes them so a
// UI shell can poll for toasts.
type Recorder struct {
	mu    sync.Mutex
	max   int
	items []Message
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 50
	}
	return &Recorder{max: max}
}

func (r *Recorder) Notify(title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Message{Title: title, Body: body})
	if over := len(r.items) - r.max; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

// Drain returns the recorded notifications and clears them.
func (r *Recorder) Drain() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	if out == nil {
		out = []Message{}
	}
	return out
}
