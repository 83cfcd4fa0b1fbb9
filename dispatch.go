package main

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DispatchParallel sends the same messages to every model concurrently and waits
// for all of them. A failing model never cancels its siblings: its entry carries
// the error instead. Results are in completion order.
func DispatchParallel(ctx context.Context, invoker ModelInvoker, models []string, messages []ChatMessage) []DispatchResult {
	// Plain group, not WithContext: one failure must not cancel the others.
	var g errgroup.Group

	results := make([]DispatchResult, 0, len(models))
	var mu sync.Mutex

	for _, model := range models {
		model := model
		g.Go(func() error {
			content, err := invoker.Invoke(ctx, model, messages)
			if err != nil {
				log.Printf("Error querying model %s: %v", model, err)
			}

			mu.Lock()
			results = append(results, DispatchResult{
				Model:   model,
				Content: content,
				Err:     err,
			})
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return results
}
