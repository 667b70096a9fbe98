package lifecycle

import (
	"context"
	"sync"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
)

// SwitchResult is the outcome of one kind's regeneration in SwitchMode.
type SwitchResult struct {
	Kind   agent.Kind  `json:"kind"`
	Result WriteResult `json:"result"`
	Err    error       `json:"-"`
	Error  string      `json:"error,omitempty"`
}

// SwitchMode regenerates every managed kind for mode, one generate per kind,
// all concurrently. Settings come from the Defaults function, keeping each
// file's current model and key when the defaults leave them empty. Results
// are returned in catalog order; one kind failing does not stop the others.
func (c *Coordinator) SwitchMode(ctx context.Context, mode codec.Mode, opts GenerateOptions) []SwitchResult {
	var kinds []agent.Kind
	if c.managed != nil {
		kinds = c.managed.List()
	}

	results := make([]SwitchResult, len(kinds))
	var wg sync.WaitGroup
	for i, k := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.GenerateDefault(ctx, k, mode, opts)
			results[i] = SwitchResult{Kind: k, Result: res, Err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()
	return results
}
