package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
)

func sleeper(name string, d time.Duration, out string, done *[]string, mu *sync.Mutex) capability.Capability {
	return capability.NewFunction(name, "sleeps", nil, func(cc *core.CallContext, _ map[string]any) (string, error) {
		select {
		case <-time.After(d):
		case <-cc.Context().Done():
			return "", cc.Context().Err()
		}
		mu.Lock()
		*done = append(*done, name)
		mu.Unlock()
		return out, nil
	})
}

func TestExecutor_SlotOrderUnderReversedCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu       sync.Mutex
		finished []string
	)

	reg := capability.NewRegistry([]capability.Capability{
		sleeper("slow", 60*time.Millisecond, "s", &finished, &mu),
		sleeper("medium", 30*time.Millisecond, "m", &finished, &mu),
		sleeper("fast", 1*time.Millisecond, "f", &finished, &mu),
	})

	invs := []core.InvocationRequest{
		{Slot: 2, ID: "c2", Name: "fast"},
		{Slot: 0, ID: "c0", Name: "slow"},
		{Slot: 1, ID: "c1", Name: "medium"},
	}

	results, err := NewExecutor(reg).Execute(newRunContext(t, "q", 0), 1, invs)
	require.NoError(t, err)

	assert.Equal(t, []string{"fast", "medium", "slow"}, finished)

	require.Len(t, results, 3)
	assert.Equal(t, "c0", results[0].RequestID)
	assert.Equal(t, "s", results[0].Output)
	assert.Equal(t, "c1", results[1].RequestID)
	assert.Equal(t, "c2", results[2].RequestID)
	for _, r := range results {
		assert.Equal(t, core.KindOK, r.Kind)
	}
}

func TestExecutor_RunsInParallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu       sync.Mutex
		finished []string
	)

	reg := capability.NewRegistry([]capability.Capability{
		sleeper("a", 50*time.Millisecond, "a", &finished, &mu),
		sleeper("b", 50*time.Millisecond, "b", &finished, &mu),
		sleeper("c", 50*time.Millisecond, "c", &finished, &mu),
	})

	start := time.Now()
	_, err := NewExecutor(reg).Execute(newRunContext(t, "q", 0), 1, []core.InvocationRequest{
		{Slot: 0, ID: "1", Name: "a"}, {Slot: 1, ID: "2", Name: "b"}, {Slot: 2, ID: "3", Name: "c"},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 140*time.Millisecond)
}

func TestExecutor_MaxParallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, peak int32

	probe := capability.NewFunction("probe", "", nil, func(_ *core.CallContext, _ map[string]any) (string, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return "ok", nil
	})

	reg := capability.NewRegistry([]capability.Capability{probe})

	var invs []core.InvocationRequest
	for i := 0; i < 6; i++ {
		invs = append(invs, core.InvocationRequest{Slot: i, ID: string(rune('a' + i)), Name: "probe"})
	}

	results, err := NewExecutor(reg, func(o *ExecutorOptions) { o.MaxParallel = 2 }).Execute(newRunContext(t, "q", 0), 1, invs)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecutor_ResultKinds(t *testing.T) {
	defer goleak.VerifyNone(t)

	called := false
	reg := capability.NewRegistry([]capability.Capability{
		closingPriceCapability(),
		capability.NewFunction("boom", "", nil, func(_ *core.CallContext, _ map[string]any) (string, error) {
			return "", errors.New("exploded")
		}),
		capability.NewFunction("panics", "", nil, func(_ *core.CallContext, _ map[string]any) (string, error) {
			panic("kaboom")
		}),
		capability.NewFunction("spy", "", nil, func(_ *core.CallContext, _ map[string]any) (string, error) {
			called = true
			return "", nil
		}),
		capability.NewFunction("empty_args", "", nil, func(_ *core.CallContext, args map[string]any) (string, error) {
			if len(args) != 0 {
				return "", errors.New("expected no arguments")
			}
			return "none", nil
		}),
	})

	invs := []core.InvocationRequest{
		{Slot: 0, ID: "ok", Name: "get_closing_price", RawArguments: `{"ticker":"B"}`},
		{Slot: 1, ID: "missing", Name: "get_opening_price", RawArguments: `{}`},
		{Slot: 2, ID: "bad_json", Name: "spy", RawArguments: `{"ticker":`},
		{Slot: 3, ID: "array", Name: "spy", RawArguments: `[1,2]`},
		{Slot: 4, ID: "null", Name: "spy", RawArguments: `null`},
		{Slot: 5, ID: "err", Name: "boom"},
		{Slot: 6, ID: "panic", Name: "panics"},
		{Slot: 7, ID: "empty", Name: "empty_args", RawArguments: "  "},
		{Slot: 8, ID: "invalid", Name: "get_closing_price", RawArguments: `{}`},
	}

	results, err := NewExecutor(reg).Execute(newRunContext(t, "q", 0), 1, invs)
	require.NoError(t, err)
	require.Len(t, results, len(invs))

	byID := map[string]core.InvocationResult{}
	for _, r := range results {
		byID[r.RequestID] = r
	}

	assert.Equal(t, core.KindOK, byID["ok"].Kind)
	assert.Equal(t, "1488.21", byID["ok"].Output)

	assert.Equal(t, core.KindCapabilityNotFound, byID["missing"].Kind)
	assert.Equal(t, "capability get_opening_price not found", byID["missing"].Output)

	for _, id := range []string{"bad_json", "array", "null"} {
		assert.Equal(t, core.KindArgumentParseError, byID[id].Kind, id)
		assert.Contains(t, byID[id].Output, "invalid arguments", id)
	}
	assert.False(t, called, "handler must not run on argument parse errors")

	assert.Equal(t, core.KindExecutionError, byID["err"].Kind)
	assert.Contains(t, byID["err"].Output, "exploded")

	assert.Equal(t, core.KindExecutionError, byID["panic"].Kind)
	assert.Contains(t, byID["panic"].Output, "kaboom")

	assert.Equal(t, core.KindOK, byID["empty"].Kind)
	assert.Equal(t, "none", byID["empty"].Output)

	assert.Equal(t, core.KindExecutionError, byID["invalid"].Kind)
	assert.Contains(t, byID["invalid"].Output, capability.CodeValidation)
}

func TestExecutor_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// ignores its context on purpose
	stuck := capability.NewFunction("stuck", "", nil, func(_ *core.CallContext, _ map[string]any) (string, error) {
		<-release
		return "late", nil
	})

	reg := capability.NewRegistry([]capability.Capability{stuck})
	ex := NewExecutor(reg, func(o *ExecutorOptions) { o.Timeout = 20 * time.Millisecond })

	start := time.Now()
	results, err := ex.Execute(newRunContext(t, "q", 0), 1, []core.InvocationRequest{{ID: "s", Name: "stuck"}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 1)
	assert.Equal(t, core.KindExecutionError, results[0].Kind)
	assert.Equal(t, "capability stuck timed out after 20ms", results[0].Output)
}

func TestExecutor_CancellationIsAllOrNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 2)

	blocking := capability.NewFunction("blocking", "", nil, func(cc *core.CallContext, _ map[string]any) (string, error) {
		started <- struct{}{}
		<-cc.Context().Done()
		return "", cc.Context().Err()
	})
	quick := capability.NewFunction("quick", "", nil, func(_ *core.CallContext, _ map[string]any) (string, error) {
		started <- struct{}{}
		return "done", nil
	})

	reg := capability.NewRegistry([]capability.Capability{blocking, quick})
	runCtx := core.NewRunContext(ctx, "", core.NewConversationFromQuery("q"), 0, logging.NoOpLogger{})

	go func() {
		<-started
		<-started
		cancel()
	}()

	results, err := NewExecutor(reg).Execute(runCtx, 1, []core.InvocationRequest{
		{Slot: 0, ID: "b", Name: "blocking"},
		{Slot: 1, ID: "q", Name: "quick"},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}

func TestExecutor_BeforeCapabilityVeto(t *testing.T) {
	defer goleak.VerifyNone(t)

	var after []core.ResultKind
	var mu sync.Mutex

	callbacks := NewCallbackManager(
		NewFunctionCallback(CallbackBeforeCapability, func(_ context.Context, cc *CallbackContext) error {
			if cc.Invocation.Name == "get_closing_price" {
				return errors.New("market closed")
			}
			return nil
		}),
		NewFunctionCallback(CallbackAfterCapability, func(_ context.Context, cc *CallbackContext) error {
			mu.Lock()
			defer mu.Unlock()
			after = append(after, cc.Result.Kind)
			return nil
		}),
	)

	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
	ex := NewExecutor(reg, func(o *ExecutorOptions) { o.Callbacks = callbacks })

	results, err := ex.Execute(newRunContext(t, "q", 0), 1, []core.InvocationRequest{
		{ID: "x", Name: "get_closing_price", RawArguments: `{"ticker":"A"}`},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.KindExecutionError, results[0].Kind)
	assert.Equal(t, "market closed", results[0].Output)
	assert.Equal(t, []core.ResultKind{core.KindExecutionError}, after)
}

func TestExecutor_Empty(t *testing.T) {
	results, err := NewExecutor(nil).Execute(newRunContext(t, "q", 0), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}
