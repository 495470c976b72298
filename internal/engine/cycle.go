package engine

import (
	"context"
	"strings"

	"github.com/rendis/taskweave/pkg/schema"
)

type chainKey struct{}

// taskChain is the immutable list of tasks currently being evaluated on one
// path of the reference graph, innermost first.
type taskChain struct {
	name   string
	parent *taskChain
}

func (c *taskChain) path(next string) []string {
	var names []string
	for n := c; n != nil; n = n.parent {
		names = append(names, n.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return append(names, next)
}

// enterTask records name on the context's chain, failing when name is
// already one of its ancestors. Siblings do not see each other, so a task
// referenced twice from one template is not a cycle.
func enterTask(ctx context.Context, name string) (context.Context, error) {
	chain, _ := ctx.Value(chainKey{}).(*taskChain)
	for n := chain; n != nil; n = n.parent {
		if n.name == name {
			path := chain.path(name)
			return ctx, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"reference cycle: %s", strings.Join(path, " -> ")).
				WithTask(name).
				WithDetails(map[string]any{"path": path})
		}
	}
	return context.WithValue(ctx, chainKey{}, &taskChain{name: name, parent: chain}), nil
}
