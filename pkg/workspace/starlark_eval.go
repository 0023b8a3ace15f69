package workspace

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"

	"github.com/monoforge/monoforge/pkg/engine"
)

// Selector narrows which projects a build run includes by evaluating a
// Starlark script. The script must define include(project) returning a bool;
// project is a dict with name, version, folder and review_category keys.
type Selector struct {
	include starlark.Callable
	timeout time.Duration
}

// NewSelector loads and executes the selector script at path, resolving its
// include function.
func NewSelector(path string, timeout time.Duration) (*Selector, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("failed to read selector script %s", path), err)
	}

	thread := &starlark.Thread{
		Name:  "monoforge-selector",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	globals, err := starlark.ExecFile(thread, path, source, nil)
	if err != nil {
		return nil, engine.NewConfigError(
			fmt.Sprintf("selector script %s failed", path), err)
	}

	fn, ok := globals["include"].(starlark.Callable)
	if !ok {
		return nil, engine.NewConfigError(
			fmt.Sprintf("selector script %s must define include(project)", path), nil)
	}

	return &Selector{include: fn, timeout: timeout}, nil
}

// Select returns the subset of projects the script includes, preserving
// order.
func (s *Selector) Select(ctx context.Context, projects []engine.Project) ([]engine.Project, error) {
	selected := make([]engine.Project, 0, len(projects))
	for i := range projects {
		ok, err := s.includes(ctx, &projects[i])
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, projects[i])
		}
	}
	return selected, nil
}

// includes calls include(project) with a bounded evaluation time.
func (s *Selector) includes(ctx context.Context, p *engine.Project) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)

	go func() {
		thread := &starlark.Thread{
			Name:  "monoforge-selector",
			Print: func(_ *starlark.Thread, _ string) {},
		}
		arg := starlark.NewDict(4)
		_ = arg.SetKey(starlark.String("name"), starlark.String(p.Name))
		_ = arg.SetKey(starlark.String("version"), starlark.String(p.Version))
		_ = arg.SetKey(starlark.String("folder"), starlark.String(p.Folder))
		_ = arg.SetKey(starlark.String("review_category"), starlark.String(p.ReviewCategory))

		value, err := starlark.Call(thread, s.include, starlark.Tuple{arg}, nil)
		if err != nil {
			ch <- result{err: engine.NewConfigError(
				fmt.Sprintf("selector include(%s) failed", p.Name), err).WithSubject(p.Name)}
			return
		}
		ch <- result{ok: bool(value.Truth())}
	}()

	select {
	case <-evalCtx.Done():
		return false, engine.NewConfigError(
			fmt.Sprintf("selector include(%s) timed out", p.Name), evalCtx.Err()).
			WithSubject(p.Name)
	case r := <-ch:
		return r.ok, r.err
	}
}
