package quizstudio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity categorizes a toast
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

// ToastTTL is how long a toast stays visible unless dismissed
const ToastTTL = 3 * time.Second

// Toast is a dismissable, auto-expiring in-app message
type Toast struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ToastQueue keeps toasts in the order they were raised
type ToastQueue struct {
	mu     sync.RWMutex
	toasts map[string]Toast
	queue  []string // FIFO of toast IDs
	now    func() time.Time
}

// NewToastQueue creates an empty queue. A nil now uses time.Now.
func NewToastQueue(now func() time.Time) *ToastQueue {
	if now == nil {
		now = time.Now
	}
	return &ToastQueue{
		toasts: make(map[string]Toast),
		queue:  make([]string, 0),
		now:    now,
	}
}

// Add raises a toast and returns it
func (tq *ToastQueue) Add(message string, severity Severity) Toast {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	toast := Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		ExpiresAt: tq.now().Add(ToastTTL),
	}
	tq.toasts[toast.ID] = toast
	tq.queue = append(tq.queue, toast.ID)
	return toast
}

// Dismiss removes a toast before it expires
func (tq *ToastQueue) Dismiss(id string) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	delete(tq.toasts, id)
	for i, queued := range tq.queue {
		if queued == id {
			tq.queue = append(tq.queue[:i], tq.queue[i+1:]...)
			break
		}
	}
}

// Active returns the unexpired toasts, oldest first, and forgets expired ones
func (tq *ToastQueue) Active() []Toast {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	now := tq.now()
	active := make([]Toast, 0, len(tq.queue))
	kept := tq.queue[:0]
	for _, id := range tq.queue {
		toast := tq.toasts[id]
		if !now.Before(toast.ExpiresAt) {
			delete(tq.toasts, id)
			continue
		}
		kept = append(kept, id)
		active = append(active, toast)
	}
	tq.queue = kept
	return active
}
