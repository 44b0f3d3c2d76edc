package inbox

import (
	"context"
	"fmt"
	"sync"
)

// variant tags which of the four handler shapes a dispatchDescriptor wraps.
type variant int

const (
	variantDefault variant = iota
	variantBatched
	variantFIFO
	variantFIFOBatched
)

// outcome is the internal result of invoking a decoded handler. A
// dispatchFailure (unknown type, missing handler, decode error) always
// routes to dead letter without counting against attempts, per spec §4.E.
type outcome struct {
	result          Result
	reason          string
	dispatchFailure bool
}

// dispatchDescriptor is the registry's per-message-type entry: a decoder
// and handler closed over the concrete payload type T, type-erased behind
// plain function values so the registry itself need not be generic.
//
// Grounded on spec §9's re-architecture note: "a registry mapping
// MessageType -> a dispatch descriptor {decoder, handlerVariant, invoker}".
type dispatchDescriptor struct {
	messageType string
	kind        variant

	// invokeSingle serves Default and FIFO.
	invokeSingle func(ctx context.Context, msg *InboxMessage) outcome

	// invokeBatch serves Batched: one call per message type in the batch.
	invokeBatch func(ctx context.Context, msgs []*InboxMessage) []outcome

	// invokeFIFOBatch serves FIFO-Batched: one call per same-type run
	// within a single group.
	invokeFIFOBatch func(ctx context.Context, groupID string, msgs []*InboxMessage) []outcome
}

// Registry maps MessageType to a dispatchDescriptor, bounded to at most
// maxEntries live entries, evicting the oldest registration when full.
// Immutable after startup per spec §5 ("no shared in-process mutable state
// between worker loops beyond ... the metadata registry").
type Registry struct {
	mu          sync.RWMutex
	maxEntries  int
	order       []string
	descriptors map[string]*dispatchDescriptor
}

// NewRegistry builds a registry bounded to maxEntries dispatch descriptors.
func NewRegistry(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = DefaultDelegateCacheSize
	}
	return &Registry{
		maxEntries:  maxEntries,
		descriptors: make(map[string]*dispatchDescriptor),
	}
}

func (r *Registry) register(d *dispatchDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.messageType]; !exists && len(r.order) >= r.maxEntries {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.descriptors, oldest)
	}
	if _, exists := r.descriptors[d.messageType]; !exists {
		r.order = append(r.order, d.messageType)
	}
	r.descriptors[d.messageType] = d
}

func (r *Registry) lookup(messageType string) (*dispatchDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[messageType]
	return d, ok
}

// RegisterDefault registers a Default-shape handler for messageType.
func RegisterDefault[T any](r *Registry, messageType string, decode func([]byte) (T, error), h DefaultHandler[T]) {
	r.register(&dispatchDescriptor{
		messageType: messageType,
		kind:        variantDefault,
		invokeSingle: func(ctx context.Context, msg *InboxMessage) outcome {
			payload, err := decode(msg.Payload)
			if err != nil {
				return outcome{dispatchFailure: true, reason: fmt.Sprintf("payload decode failed: %v", err)}
			}
			res := h.Handle(ctx, Envelope[T]{ID: msg.ID, Message: msg, Payload: payload})
			return outcome{result: res}
		},
	})
}

// RegisterFIFO registers a FIFO-shape handler for messageType.
func RegisterFIFO[T any](r *Registry, messageType string, decode func([]byte) (T, error), h FIFOHandler[T]) {
	r.register(&dispatchDescriptor{
		messageType: messageType,
		kind:        variantFIFO,
		invokeSingle: func(ctx context.Context, msg *InboxMessage) outcome {
			payload, err := decode(msg.Payload)
			if err != nil {
				return outcome{dispatchFailure: true, reason: fmt.Sprintf("payload decode failed: %v", err)}
			}
			res := h.Handle(ctx, Envelope[T]{ID: msg.ID, Message: msg, Payload: payload})
			return outcome{result: res}
		},
	})
}

// RegisterBatched registers a Batched-shape handler for messageType.
func RegisterBatched[T any](r *Registry, messageType string, decode func([]byte) (T, error), h BatchedHandler[T]) {
	r.register(&dispatchDescriptor{
		messageType: messageType,
		kind:        variantBatched,
		invokeBatch: func(ctx context.Context, msgs []*InboxMessage) []outcome {
			return invokeDecodedBatch(ctx, msgs, decode, func(ctx context.Context, envs []Envelope[T]) []Result {
				return h.HandleBatch(ctx, envs)
			})
		},
	})
}

// RegisterFIFOBatched registers a FIFO-Batched-shape handler for messageType.
func RegisterFIFOBatched[T any](r *Registry, messageType string, decode func([]byte) (T, error), h FIFOBatchedHandler[T]) {
	r.register(&dispatchDescriptor{
		messageType: messageType,
		kind:        variantFIFOBatched,
		invokeFIFOBatch: func(ctx context.Context, groupID string, msgs []*InboxMessage) []outcome {
			return invokeDecodedBatch(ctx, msgs, decode, func(ctx context.Context, envs []Envelope[T]) []Result {
				return h.HandleBatch(ctx, groupID, envs)
			})
		},
	})
}

// invokeDecodedBatch decodes each message, routing decode failures straight
// to a dispatch-failure outcome and excluding them from the handler call,
// then maps handler results back onto the original message order.
func invokeDecodedBatch[T any](ctx context.Context, msgs []*InboxMessage, decode func([]byte) (T, error), call func(context.Context, []Envelope[T]) []Result) []outcome {
	outcomes := make([]outcome, len(msgs))
	envs := make([]Envelope[T], 0, len(msgs))
	envIdx := make([]int, 0, len(msgs))

	for i, m := range msgs {
		payload, err := decode(m.Payload)
		if err != nil {
			outcomes[i] = outcome{dispatchFailure: true, reason: fmt.Sprintf("payload decode failed: %v", err)}
			continue
		}
		envs = append(envs, Envelope[T]{ID: m.ID, Message: m, Payload: payload})
		envIdx = append(envIdx, i)
	}

	if len(envs) == 0 {
		return outcomes
	}

	results := call(ctx, envs)
	for j, idx := range envIdx {
		if j < len(results) {
			outcomes[idx] = outcome{result: results[j]}
		} else {
			outcomes[idx] = outcome{result: Failed, reason: "handler returned fewer results than envelopes"}
		}
	}
	return outcomes
}
