// Package hook defines interfaces that the rig.Hook option recognizes and will apply at various stages of setting up
// a new rig.
package hook

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
)

// Listen hooks provide the listener for a rig.  Only the first Listen hook is used.
type Listen interface {
	Listen(context.Context) (net.Listener, error)
}

// Listener hooks are called when the rig is setting up a TCP listener because no Listen hook was provided.
type Listener interface {
	RigListener(*net.ListenConfig)
}

// Server hooks are called when the rig is setting up a new HTTP server.
type Server interface {
	RigServer(*http.Server)
}

// Mux hooks are called when the rig is setting up a new HTTP multiplexer.
type Mux interface {
	RigMux(*http.ServeMux)
}

// Order returns the hooks in the order they were provided, moving each Dependent after the hooks that provide its
// dependencies.  It fails if a dependency is not provided by any hook or if dependencies form a cycle.
func Order(hooks ...any) ([]any, error) {
	providers := make(map[string][]int, len(hooks))
	for i, hook := range hooks {
		if provider, ok := hook.(Provider); ok {
			for _, name := range provider.Provides() {
				providers[name] = append(providers[name], i)
			}
		}
	}

	const (
		unplaced = iota
		placing
		placed
	)
	state := make([]int, len(hooks))
	order := make([]any, 0, len(hooks))
	var place func(i int, path []string) error
	place = func(i int, path []string) error {
		switch state[i] {
		case placed:
			return nil
		case placing:
			return fmt.Errorf(`hook dependencies form a cycle through %v`, strings.Join(path, ` -> `))
		}
		state[i] = placing
		if dependent, ok := hooks[i].(Dependent); ok {
			var items []int
			for _, name := range dependent.DependsOn() {
				seq := providers[name]
				if len(seq) == 0 {
					return fmt.Errorf(`no hook provides %q`, name)
				}
				items = append(items, seq...)
			}
			slices.Sort(items) // keep the original order where possible
			for _, j := range slices.Compact(items) {
				if err := place(j, append(path, describe(hooks[j]))); err != nil {
					return err
				}
			}
		}
		state[i] = placed
		order = append(order, hooks[i])
		return nil
	}
	for i := range hooks {
		if err := place(i, []string{describe(hooks[i])}); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// describe names a hook in errors by what it provides, or by its type.
func describe(hook any) string {
	if provider, ok := hook.(Provider); ok {
		if names := provider.Provides(); len(names) > 0 {
			return strings.Join(names, `+`)
		}
	}
	return fmt.Sprintf(`%T`, hook)
}

// A Provider provides a name so that it can be referenced by a Dependent.
type Provider interface {
	Provides() []string
}

// A Dependent hook will not be called until all of its dependencies have been provided.
type Dependent interface {
	DependsOn() []string
}
