// Package models owns the process-lifetime handles to heavyweight inference
// models. Each (role, variant) key is constructed at most once; concurrent
// first use shares one construction, failed specialized variants are aliased to
// their fallback, and failed constructions without a fallback are retried on
// the next request.
package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/metrics"
)

// Static errors.
var (
	ErrUnknownModel     = errors.New("model not registered")
	ErrDuplicateModel   = errors.New("model already registered")
	ErrPolicyRequired   = errors.New("load policy must be declared")
	ErrConstructorEmpty = errors.New("constructor cannot be nil")
	ErrFallbackCycle    = errors.New("fallback chain forms a cycle")
	ErrUnexpectedHandle = errors.New("unexpected model handle type")
)

const (
	defaultInferenceSlots = 1

	logFmtLoading       = "Loading model %s..."
	logFmtLoaded        = "Model %s loaded as %s in %s."
	logFmtLoadFailed    = "Model %s failed to load: %v"
	logFmtFallingBack   = "Model %s failed (%v), falling back to %s"
	logFmtAliased       = "Model %s now served by %s."
	logFmtWarmFailed    = "Eager load of %s failed, will retry on first use: %v"
	errFmtLoad          = "%w: %s: %w"
	errFmtFallbackLoad  = "%w: %s (%v), fallback %s: %w"
	errFmtUnknownModel  = "%w: %s"
	errFmtRegisterModel = "%w: %s"
)

// Role identifies what a model is used for.
type Role string

// Known roles. The string values appear in /health.
const (
	RoleRecognition Role = "asr"
	RoleSynthesis   Role = "tts"
)

// Key identifies one model instance.
type Key struct {
	Role    Role
	Variant string
}

// String renders the key as "role" or "role:variant".
func (k Key) String() string {
	if k.Variant == "" {
		return string(k.Role)
	}

	return string(k.Role) + ":" + k.Variant
}

// Policy decides when a model is constructed.
type Policy int

// Load policies. The zero value is deliberately invalid.
const (
	policyUnset Policy = iota
	// Eager models are constructed by Warm before the service accepts requests.
	Eager
	// Lazy models are constructed on first use.
	Lazy
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case Eager:
		return "eager"
	case Lazy:
		return "lazy"
	default:
		return "unset"
	}
}

// ParsePolicy maps "eager"/"lazy" to a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch value {
	case "eager":
		return Eager, nil
	case "lazy":
		return Lazy, nil
	default:
		return policyUnset, fmt.Errorf("%w: got %q", ErrPolicyRequired, value)
	}
}

// ConstructFunc builds a model handle. It may take minutes and is never cancelled
// by an impatient caller.
type ConstructFunc func(ctx context.Context) (core.Model, error)

// Spec registers how one key is built.
type Spec struct {
	Key       Key
	Policy    Policy
	Construct ConstructFunc
	// Fallback, when set, is acquired if Construct fails. The failed key is then
	// aliased to the fallback handle for the rest of the process lifetime.
	Fallback *Key
}

// Option configures a Manager.
type Option func(*Manager)

// WithInferenceSlots bounds concurrent invocations per role. Values below one are ignored.
func WithInferenceSlots(slots int) Option {
	return func(m *Manager) {
		if slots > 0 {
			m.inferenceSlots = slots
		}
	}
}

// Manager owns the model handles of the process.
type Manager struct {
	log            *logger.Logger
	group          singleflight.Group
	mu             sync.RWMutex
	specs          map[Key]Spec
	order          []Key
	handles        map[Key]core.Model
	aliases        map[Key]Key
	slots          map[Role]chan struct{}
	inferenceSlots int
}

// NewManager creates an empty Manager.
func NewManager(log *logger.Logger, opts ...Option) *Manager {
	manager := &Manager{
		log:            log,
		specs:          make(map[Key]Spec),
		handles:        make(map[Key]core.Model),
		aliases:        make(map[Key]Key),
		slots:          make(map[Role]chan struct{}),
		inferenceSlots: defaultInferenceSlots,
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// Register adds a spec. Every spec must declare its load policy.
func (m *Manager) Register(spec Spec) error {
	if spec.Policy != Eager && spec.Policy != Lazy {
		return fmt.Errorf(errFmtRegisterModel, ErrPolicyRequired, spec.Key)
	}

	if spec.Construct == nil {
		return fmt.Errorf(errFmtRegisterModel, ErrConstructorEmpty, spec.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.specs[spec.Key]; exists {
		return fmt.Errorf(errFmtRegisterModel, ErrDuplicateModel, spec.Key)
	}

	if m.formsCycle(spec) {
		return fmt.Errorf(errFmtRegisterModel, ErrFallbackCycle, spec.Key)
	}

	m.specs[spec.Key] = spec
	m.order = append(m.order, spec.Key)

	if _, ok := m.slots[spec.Key.Role]; !ok {
		m.slots[spec.Key.Role] = make(chan struct{}, m.inferenceSlots)
	}

	metrics.ModelResident.WithLabelValues(spec.Key.String()).Set(0)

	return nil
}

// formsCycle walks the fallback chain of spec. Callers hold m.mu.
func (m *Manager) formsCycle(spec Spec) bool {
	visited := map[Key]bool{spec.Key: true}

	next := spec.Fallback
	for next != nil {
		if visited[*next] {
			return true
		}

		visited[*next] = true

		registered, ok := m.specs[*next]
		if !ok {
			return false
		}

		next = registered.Fallback
	}

	return false
}

// Acquire returns the handle for key, constructing it if needed.
func (m *Manager) Acquire(ctx context.Context, key Key) (core.Model, error) {
	handle, ok := m.cached(key)
	if ok {
		return handle, nil
	}

	spec, ok := m.spec(key)
	if !ok {
		return nil, fmt.Errorf(errFmtUnknownModel, ErrUnknownModel, key)
	}

	// Construction outlives an abandoned request; the result is shared.
	buildCtx := context.WithoutCancel(ctx)

	value, err, _ := m.group.Do(key.String(), func() (any, error) {
		existing, found := m.cached(key)
		if found {
			return existing, nil
		}

		return m.construct(buildCtx, spec)
	})
	if err != nil {
		return nil, err
	}

	model, ok := value.(core.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedHandle, value)
	}

	return model, nil
}

func (m *Manager) construct(ctx context.Context, spec Spec) (core.Model, error) {
	name := spec.Key.String()
	start := time.Now()

	m.log.Info(logFmtLoading, name)

	handle, err := spec.Construct(ctx)
	metrics.ModelLoadDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err == nil && handle != nil {
		metrics.ModelLoads.WithLabelValues(name, metrics.OutcomeSuccess).Inc()
		m.store(spec.Key, handle)
		m.log.Info(logFmtLoaded, name, handle.Name(), time.Since(start).Round(time.Millisecond))

		return handle, nil
	}

	if err == nil {
		err = ErrUnexpectedHandle
	}

	metrics.ModelLoads.WithLabelValues(name, metrics.OutcomeFailure).Inc()

	if spec.Fallback == nil {
		m.log.Error(logFmtLoadFailed, name, err)

		return nil, fmt.Errorf(errFmtLoad, core.ErrModelLoad, name, err)
	}

	m.log.Warn(logFmtFallingBack, name, err, spec.Fallback)

	fallback, fallbackErr := m.Acquire(ctx, *spec.Fallback)
	if fallbackErr != nil {
		return nil, fmt.Errorf(errFmtFallbackLoad, core.ErrModelLoad, name, err, spec.Fallback, fallbackErr)
	}

	metrics.ModelLoads.WithLabelValues(name, metrics.OutcomeFallback).Inc()
	m.alias(spec.Key, *spec.Fallback, fallback)
	m.log.Info(logFmtAliased, name, spec.Fallback)

	return fallback, nil
}

func (m *Manager) cached(key Key) (core.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handle, ok := m.handles[key]

	return handle, ok
}

func (m *Manager) spec(key Key) (Spec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	spec, ok := m.specs[key]

	return spec, ok
}

func (m *Manager) store(key Key, handle core.Model) {
	m.mu.Lock()
	m.handles[key] = handle
	m.mu.Unlock()

	metrics.ModelResident.WithLabelValues(key.String()).Set(1)
}

func (m *Manager) alias(key, target Key, handle core.Model) {
	m.mu.Lock()
	m.handles[key] = handle
	m.aliases[key] = target
	m.mu.Unlock()

	metrics.ModelResident.WithLabelValues(key.String()).Set(1)
}

// Warm constructs every eager model. Failures are logged and joined; the
// affected keys stay unconstructed and are retried lazily.
func (m *Manager) Warm(ctx context.Context) error {
	var errs []error

	for _, key := range m.Keys() {
		spec, _ := m.spec(key)
		if spec.Policy != Eager {
			continue
		}

		_, err := m.Acquire(ctx, key)
		if err != nil {
			m.log.Warn(logFmtWarmFailed, key, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Keys returns the registered keys in registration order.
func (m *Manager) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, len(m.order))
	copy(keys, m.order)

	return keys
}

// Status reports, per registered key, whether a handle exists. It never
// constructs anything.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.order))
	for _, key := range m.order {
		_, loaded := m.handles[key]
		status[key.String()] = loaded
	}

	return status
}

// Loaded reports whether key currently has a handle.
func (m *Manager) Loaded(key Key) bool {
	_, ok := m.cached(key)

	return ok
}

// AliasOf reports the key whose handle serves key after a fallback.
func (m *Manager) AliasOf(key Key) (Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, ok := m.aliases[key]

	return target, ok
}

// Registered reports whether a spec exists for key.
func (m *Manager) Registered(key Key) bool {
	_, ok := m.spec(key)

	return ok
}

// Reserve blocks until an inference slot for role is free. The returned
// release function must be called once the invocation finished.
func (m *Manager) Reserve(ctx context.Context, role Role) (func(), error) {
	m.mu.RLock()
	slots, ok := m.slots[role]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no model with role %s", ErrUnknownModel, role)
	}

	select {
	case slots <- struct{}{}:
		return func() { <-slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s inference slot: %w", role, ctx.Err())
	}
}
