package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glimte/voicebus/contracts"
)

// DispatchResult summarises one delivery to a set of handlers
type DispatchResult struct {
	Succeeded int
	Failed    int
	Err       error
}

// Dispatch runs every handler concurrently against env and waits for all of
// them. Panics are recovered and reported as handler errors.
func Dispatch(ctx context.Context, handlers []Handler, env *contracts.Envelope) DispatchResult {
	switch len(handlers) {
	case 0:
		return DispatchResult{}
	case 1:
		if err := invoke(ctx, handlers[0], env); err != nil {
			return DispatchResult{Failed: 1, Err: wrapDelivery(env, err)}
		}
		return DispatchResult{Succeeded: 1}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := invoke(ctx, h, env); err != nil {
				errChan <- err
			}
		}(h)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	result := DispatchResult{
		Succeeded: len(handlers) - len(errs),
		Failed:    len(errs),
	}
	if len(errs) > 0 {
		result.Err = wrapDelivery(env, errors.Join(errs...))
	}
	return result
}

func invoke(ctx context.Context, h Handler, env *contracts.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, env)
}

func wrapDelivery(env *contracts.Envelope, err error) error {
	return &contracts.DeliveryError{
		Topic:     env.Type,
		MessageID: env.ID,
		Attempt:   env.Attempts + 1,
		Err:       err,
	}
}
