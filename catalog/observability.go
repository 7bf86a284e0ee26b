package catalog

import (
	"sync"
	"time"
)

// Operation names reported in observations.
const (
	OpCreate        = "create"
	OpRecover       = "recover"
	OpNext          = "next"
	OpContinueAfter = "continue_after"
	OpDelete        = "delete"
	OpFlush         = "flush"
)

// OperationObservation captures one catalog operation outcome.
type OperationObservation struct {
	Op   string
	Name string
	Kind string
	// Count is the number of values produced by next, or records written
	// by flush.
	Count    int
	Duration time.Duration
	Err      error
}

// PassivationObservation is emitted when a sequence stops producing values.
type PassivationObservation struct {
	Name string
	Kind string
	// Cause is the operation that exhausted the sequence.
	Cause string
}

// Observer receives catalog observability events.
type Observer interface {
	ObserveOperation(observation OperationObservation)
	ObservePassivation(observation PassivationObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(OperationObservation)     {}
func (noopObserver) ObservePassivation(PassivationObservation) {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide catalog observer. Passing nil restores
// the no-op observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func currentObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()
	return activeObserver
}

func emitOperation(observation OperationObservation) {
	currentObserver().ObserveOperation(observation)
}

func emitPassivation(observation PassivationObservation) {
	currentObserver().ObservePassivation(observation)
}
