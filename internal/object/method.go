package object

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/errors"
)

// BoundMethod is a function with its receiver fixed as the first argument.
type BoundMethod struct {
	Receiver *Instance
	Function starlark.Callable
}

var _ starlark.Callable = (*BoundMethod)(nil)

func (b *BoundMethod) Name() string { return b.Function.Name() }

func (b *BoundMethod) String() string {
	return fmt.Sprintf("<bound method %s.%s of %s>", b.Receiver.class.name, b.Function.Name(), b.Receiver)
}

func (b *BoundMethod) Type() string         { return "bound_method" }
func (b *BoundMethod) Freeze()              {}
func (b *BoundMethod) Truth() starlark.Bool { return starlark.True }

func (b *BoundMethod) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: bound_method")
}

func (b *BoundMethod) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	callArgs := make(starlark.Tuple, 0, len(args)+1)
	callArgs = append(callArgs, b.Receiver)
	callArgs = append(callArgs, args...)
	return starlark.Call(thread, b.Function, callArgs, kwargs)
}

// Invoke calls the method currently bound to name on inst from Go. The call
// runs on a fresh thread that is cancelled when ctx is done.
func Invoke(ctx context.Context, inst *Instance, name string, args ...starlark.Value) (starlark.Value, error) {
	bm, ok := inst.Method(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", inst.class.QualifiedName(), name, errors.ErrMethodNotFound)
	}
	return Call(ctx, &starlark.Thread{Name: "invoke " + name}, bm, args...)
}

// Call calls fn on thread, cancelling the thread when ctx is done.
func Call(ctx context.Context, thread *starlark.Thread, fn starlark.Value, args ...starlark.Value) (starlark.Value, error) {
	if _, ok := fn.(starlark.Callable); !ok {
		return nil, fmt.Errorf("%s: %w", fn.Type(), errors.ErrNotCallable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	return starlark.Call(thread, fn, starlark.Tuple(args), nil)
}
