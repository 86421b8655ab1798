package mission_manager

import (
	"context"
	"sync"

	"github.com/nhirsama/Goster-Mission/src/transport"
)

// endpointLocks serializes uploads per vehicle endpoint. Each endpoint owns a
// one-slot channel; holding the slot means owning the vehicle link.
type endpointLocks struct {
	slots sync.Map // map[string]chan struct{}
}

// lock waits for the endpoint's slot or for ctx
func (l *endpointLocks) lock(ctx context.Context, endpoint string) error {
	actual, _ := l.slots.LoadOrStore(endpoint, make(chan struct{}, 1))
	slot := actual.(chan struct{})

	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *endpointLocks) unlock(endpoint string) {
	actual, ok := l.slots.Load(endpoint)
	if !ok {
		return
	}
	select {
	case <-actual.(chan struct{}):
	default:
	}
}

// busy reports whether an upload currently holds endpoint
func (l *endpointLocks) busy(endpoint string) bool {
	actual, ok := l.slots.Load(endpoint)
	if !ok {
		return false
	}
	return len(actual.(chan struct{})) > 0
}

// lockKey names the resource an endpoint occupies, so spellings of the same
// socket or serial device share one slot. Unparsable endpoints key on
// themselves; opening them fails anyway.
func lockKey(endpoint string) string {
	ep, err := transport.ParseEndpoint(endpoint)
	if err != nil {
		return endpoint
	}
	if ep.Kind == transport.KindSerial {
		return string(ep.Kind) + ":" + ep.Address
	}
	return ep.String()
}
