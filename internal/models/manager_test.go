package models_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/models"
)

var errMockLoad = errors.New("mock load error")

type fakeModel struct {
	name string
}

func (f *fakeModel) Name() string { return f.name }

func newManager(t *testing.T, opts ...models.Option) *models.Manager {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "models-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return models.NewManager(testLogger, opts...)
}

func constructor(name string, calls *atomic.Int32) models.ConstructFunc {
	return func(_ context.Context) (core.Model, error) {
		calls.Add(1)

		return &fakeModel{name: name}, nil
	}
}

func failing(calls *atomic.Int32) models.ConstructFunc {
	return func(_ context.Context) (core.Model, error) {
		calls.Add(1)

		return nil, errMockLoad
	}
}

var (
	keyRecognition = models.Key{Role: models.RoleRecognition}
	keyBase        = models.Key{Role: models.RoleSynthesis}
	keyGerman      = models.Key{Role: models.RoleSynthesis, Variant: "de"}
)

func TestKey_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "asr", keyRecognition.String())
	assert.Equal(t, "tts:de", keyGerman.String())
}

func TestRegister_RequiresPolicy(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var calls atomic.Int32

	err := manager.Register(models.Spec{Key: keyBase, Construct: constructor("base", &calls)})
	require.ErrorIs(t, err, models.ErrPolicyRequired)

	err = manager.Register(models.Spec{Key: keyBase, Policy: models.Lazy})
	require.ErrorIs(t, err, models.ErrConstructorEmpty)

	require.NoError(t, manager.Register(models.Spec{Key: keyBase, Policy: models.Lazy, Construct: constructor("base", &calls)}))

	err = manager.Register(models.Spec{Key: keyBase, Policy: models.Eager, Construct: constructor("base", &calls)})
	require.ErrorIs(t, err, models.ErrDuplicateModel)
}

func TestRegister_RejectsFallbackCycle(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var calls atomic.Int32

	require.NoError(t, manager.Register(models.Spec{
		Key: keyGerman, Policy: models.Lazy, Construct: constructor("de", &calls), Fallback: &keyBase,
	}))

	err := manager.Register(models.Spec{
		Key: keyBase, Policy: models.Lazy, Construct: constructor("base", &calls), Fallback: &keyGerman,
	})
	require.ErrorIs(t, err, models.ErrFallbackCycle)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	policy, err := models.ParsePolicy("eager")
	require.NoError(t, err)
	assert.Equal(t, models.Eager, policy)

	policy, err = models.ParsePolicy("lazy")
	require.NoError(t, err)
	assert.Equal(t, models.Lazy, policy)

	_, err = models.ParsePolicy("")
	require.ErrorIs(t, err, models.ErrPolicyRequired)
}

func TestAcquire_ConcurrentFirstUseConstructsOnce(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var calls atomic.Int32

	release := make(chan struct{})

	require.NoError(t, manager.Register(models.Spec{
		Key:    keyGerman,
		Policy: models.Lazy,
		Construct: func(_ context.Context) (core.Model, error) {
			calls.Add(1)
			<-release

			return &fakeModel{name: "german"}, nil
		},
	}))

	const callers = 16

	var waitGroup sync.WaitGroup

	handles := make([]core.Model, callers)
	errs := make([]error, callers)

	for i := range callers {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			handles[index], errs[index] = manager.Acquire(context.Background(), keyGerman)
		}(i)
	}

	// Give every caller time to block on the shared construction.
	time.Sleep(50 * time.Millisecond)
	close(release)
	waitGroup.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
}

func TestAcquire_FallbackAliasesFailedVariant(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var baseCalls, germanCalls atomic.Int32

	require.NoError(t, manager.Register(models.Spec{
		Key: keyBase, Policy: models.Lazy, Construct: constructor("base", &baseCalls),
	}))
	require.NoError(t, manager.Register(models.Spec{
		Key: keyGerman, Policy: models.Lazy, Construct: failing(&germanCalls), Fallback: &keyBase,
	}))

	german, err := manager.Acquire(context.Background(), keyGerman)
	require.NoError(t, err)
	assert.Equal(t, "base", german.Name())

	base, err := manager.Acquire(context.Background(), keyBase)
	require.NoError(t, err)
	assert.Same(t, base, german)

	again, err := manager.Acquire(context.Background(), keyGerman)
	require.NoError(t, err)
	assert.Same(t, german, again)

	assert.Equal(t, int32(1), germanCalls.Load(), "aliased variant is never rebuilt")
	assert.Equal(t, int32(1), baseCalls.Load())

	target, aliased := manager.AliasOf(keyGerman)
	assert.True(t, aliased)
	assert.Equal(t, keyBase, target)

	_, aliased = manager.AliasOf(keyBase)
	assert.False(t, aliased)

	assert.Equal(t, map[string]bool{"tts": true, "tts:de": true}, manager.Status())
}

func TestAcquire_FailureIsNotCached(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var calls atomic.Int32

	require.NoError(t, manager.Register(models.Spec{
		Key:    keyRecognition,
		Policy: models.Lazy,
		Construct: func(_ context.Context) (core.Model, error) {
			if calls.Add(1) == 1 {
				return nil, errMockLoad
			}

			return &fakeModel{name: "whisper"}, nil
		},
	}))

	_, err := manager.Acquire(context.Background(), keyRecognition)
	require.ErrorIs(t, err, core.ErrModelLoad)
	require.ErrorIs(t, err, errMockLoad)
	assert.False(t, manager.Loaded(keyRecognition))

	handle, err := manager.Acquire(context.Background(), keyRecognition)
	require.NoError(t, err)
	assert.Equal(t, "whisper", handle.Name())
	assert.Equal(t, int32(2), calls.Load())
}

func TestAcquire_FallbackFailureReportsBoth(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var baseCalls, germanCalls atomic.Int32

	require.NoError(t, manager.Register(models.Spec{Key: keyBase, Policy: models.Lazy, Construct: failing(&baseCalls)}))
	require.NoError(t, manager.Register(models.Spec{
		Key: keyGerman, Policy: models.Lazy, Construct: failing(&germanCalls), Fallback: &keyBase,
	}))

	_, err := manager.Acquire(context.Background(), keyGerman)
	require.ErrorIs(t, err, core.ErrModelLoad)

	_, aliased := manager.AliasOf(keyGerman)
	assert.False(t, aliased)
	assert.False(t, manager.Loaded(keyGerman))
}

func TestAcquire_UnknownKey(t *testing.T) {
	t.Parallel()

	_, err := newManager(t).Acquire(context.Background(), keyGerman)
	require.ErrorIs(t, err, models.ErrUnknownModel)
}

func TestAcquire_CancelledCallerDoesNotAbortConstruction(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	require.NoError(t, manager.Register(models.Spec{
		Key:    keyBase,
		Policy: models.Lazy,
		Construct: func(ctx context.Context) (core.Model, error) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return &fakeModel{name: "base"}, nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handle, err := manager.Acquire(ctx, keyBase)
	require.NoError(t, err)
	assert.Equal(t, "base", handle.Name())
}

func TestStatus_HasNoSideEffects(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var calls atomic.Int32

	require.NoError(t, manager.Register(models.Spec{Key: keyRecognition, Policy: models.Lazy, Construct: constructor("asr", &calls)}))
	require.NoError(t, manager.Register(models.Spec{Key: keyBase, Policy: models.Lazy, Construct: constructor("tts", &calls)}))

	assert.Equal(t, map[string]bool{"asr": false, "tts": false}, manager.Status())
	assert.Equal(t, map[string]bool{"asr": false, "tts": false}, manager.Status())
	assert.Equal(t, int32(0), calls.Load())

	_, err := manager.Acquire(context.Background(), keyRecognition)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"asr": true, "tts": false}, manager.Status())
}

func TestWarm_ConstructsOnlyEagerModels(t *testing.T) {
	t.Parallel()

	manager := newManager(t)

	var eagerCalls, lazyCalls, brokenCalls atomic.Int32

	keyPreset := models.Key{Role: models.RoleSynthesis, Variant: "preset"}

	require.NoError(t, manager.Register(models.Spec{Key: keyRecognition, Policy: models.Eager, Construct: constructor("asr", &eagerCalls)}))
	require.NoError(t, manager.Register(models.Spec{Key: keyBase, Policy: models.Lazy, Construct: constructor("tts", &lazyCalls)}))
	require.NoError(t, manager.Register(models.Spec{Key: keyPreset, Policy: models.Eager, Construct: failing(&brokenCalls)}))

	err := manager.Warm(context.Background())
	require.ErrorIs(t, err, core.ErrModelLoad)

	assert.Equal(t, int32(1), eagerCalls.Load())
	assert.Equal(t, int32(0), lazyCalls.Load())
	assert.Equal(t, int32(1), brokenCalls.Load())
	assert.Equal(t, map[string]bool{"asr": true, "tts": false, "tts:preset": false}, manager.Status())

	assert.True(t, manager.Registered(keyPreset))
	assert.False(t, manager.Registered(keyGerman))
	assert.Equal(t, []models.Key{keyRecognition, keyBase, keyPreset}, manager.Keys())
}

func TestReserve_BoundsConcurrentInference(t *testing.T) {
	t.Parallel()

	manager := newManager(t, models.WithInferenceSlots(1))

	var calls atomic.Int32

	require.NoError(t, manager.Register(models.Spec{Key: keyBase, Policy: models.Lazy, Construct: constructor("tts", &calls)}))

	release, err := manager.Reserve(context.Background(), models.RoleSynthesis)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = manager.Reserve(ctx, models.RoleSynthesis)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	second, err := manager.Reserve(context.Background(), models.RoleSynthesis)
	require.NoError(t, err)
	second()

	_, err = manager.Reserve(context.Background(), models.RoleRecognition)
	require.ErrorIs(t, err, models.ErrUnknownModel)
}
