// Package sandbox runs untrusted JavaScript payload decoders inside a
// constrained interpreter. Each call gets a fresh VM with no host
// access; a watchdog enforces wall-clock and heap ceilings.
package sandbox

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// Sandbox failure modes. Decoder bugs and hostile scripts surface as
// one of these, never as a crash of the host process.
var (
	ErrTimeout           = errors.New("decoder timed out")
	ErrResourceExceeded  = errors.New("decoder exceeded resource limits")
	ErrExecutionDisabled = errors.New("decoder execution is disabled")
	ErrNoEntryPoint      = errors.New("decoder has no recognized entry point")
)

// RuntimeError wraps a script-level failure (throw, TypeError, bad
// return shape) with the decoder's own message.
type RuntimeError struct {
	Detail string
}

func (e *RuntimeError) Error() string {
	return "decoder error: " + e.Detail
}

const (
	interruptTimeout = "timeout"
	interruptMemory  = "memory"
	watchdogTick     = 10 * time.Millisecond
)

// Sandbox executes decoder scripts. Safe for concurrent use; every
// Run builds its own VM so scripts cannot observe each other.
type Sandbox struct {
	timeout  time.Duration
	memLimit uint64
	disabled bool
}

// Options configures a Sandbox
type Options struct {
	Timeout       time.Duration
	MemoryLimitMB int

	// Disabled turns every Run into an immediate
	// ErrExecutionDisabled, for deployments exposed to anonymous
	// users.
	Disabled bool
}

// New creates a Sandbox
func New(opts Options) *Sandbox {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MemoryLimitMB <= 0 {
		opts.MemoryLimitMB = 64
	}
	return &Sandbox{
		timeout:  opts.Timeout,
		memLimit: uint64(opts.MemoryLimitMB) * 1024 * 1024,
		disabled: opts.Disabled,
	}
}

// Run executes script against one decrypted payload and returns the
// decoder's output as plain Go values. The script must define one of
// the supported entry points:
//
//	decodeUplink({bytes, fPort})   TTN v3 style
//	Decoder(bytes, port)           TTN v2 style
//	decode(bytes, fport)           bare style
func (s *Sandbox) Run(ctx context.Context, script string, payload []byte, fPort int) (any, error) {
	if s.disabled {
		return nil, ErrExecutionDisabled
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	done := make(chan struct{})
	defer close(done)
	go s.watchdog(ctx, vm, done)

	result, err := s.run(vm, script, payload, fPort)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			switch interrupted.Value() {
			case interruptMemory:
				return nil, ErrResourceExceeded
			case interruptTimeout:
				return nil, ErrTimeout
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrTimeout
		}
		return nil, err
	}
	return result, nil
}

// watchdog interrupts the VM on timeout, context cancellation or heap
// growth past the ceiling. Heap use is sampled process-wide, which
// over-counts under concurrency; the ceiling guards against runaway
// allocation, not precise accounting.
func (s *Sandbox) watchdog(ctx context.Context, vm *goja.Runtime, done <-chan struct{}) {
	var base runtime.MemStats
	runtime.ReadMemStats(&base)

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(watchdogTick)
	defer tick.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			vm.Interrupt(interruptTimeout)
			return
		case <-deadline.C:
			vm.Interrupt(interruptTimeout)
			return
		case <-tick.C:
			var now runtime.MemStats
			runtime.ReadMemStats(&now)
			if now.HeapAlloc > base.HeapAlloc && now.HeapAlloc-base.HeapAlloc > s.memLimit {
				vm.Interrupt(interruptMemory)
				return
			}
		}
	}
}

func (s *Sandbox) run(vm *goja.Runtime, script string, payload []byte, fPort int) (any, error) {
	if _, err := vm.RunString(script); err != nil {
		return nil, scriptError(err)
	}

	items := make([]interface{}, len(payload))
	for i, b := range payload {
		items[i] = int(b)
	}
	bytesArr := vm.NewArray(items...)

	value, err := s.invoke(vm, bytesArr, fPort)
	if err != nil {
		return nil, err
	}

	result := value.Export()
	return unwrap(result), nil
}

// invoke tries the supported entry points in order of preference
func (s *Sandbox) invoke(vm *goja.Runtime, bytesArr *goja.Object, fPort int) (goja.Value, error) {
	if fn, ok := goja.AssertFunction(vm.Get("decodeUplink")); ok {
		input := vm.NewObject()
		if err := input.Set("bytes", bytesArr); err != nil {
			return nil, err
		}
		if err := input.Set("fPort", fPort); err != nil {
			return nil, err
		}
		value, err := fn(goja.Undefined(), input)
		if err != nil {
			return nil, scriptError(err)
		}
		return value, nil
	}

	for _, name := range []string{"Decoder", "decode"} {
		if fn, ok := goja.AssertFunction(vm.Get(name)); ok {
			value, err := fn(goja.Undefined(), bytesArr, vm.ToValue(fPort))
			if err != nil {
				return nil, scriptError(err)
			}
			return value, nil
		}
	}

	return nil, ErrNoEntryPoint
}

// unwrap flattens the common {data: ...} envelope that TTN-style
// decoders return, but only when the envelope carries nothing else of
// substance (data plus at most warnings/errors).
func unwrap(result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return result
	}
	data, ok := m["data"]
	if !ok || len(m) > 3 {
		return result
	}
	return data
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &RuntimeError{Detail: exception.Value().String()}
	}
	log.Debug().Err(err).Msg("decoder script failed")
	return &RuntimeError{Detail: err.Error()}
}
