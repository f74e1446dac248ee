package sandbox

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/storage"
)

// BuiltinRaw is always available and needs no script execution
const BuiltinRaw = "raw"

// ErrDecoderNotFound marks a decode request naming no known decoder
var ErrDecoderNotFound = errors.New("decoder not found")

// Registry resolves decoder names to executable decoders. Built-ins
// are served directly; uploaded scripts run in the sandbox.
type Registry struct {
	store   storage.DecoderStore
	sandbox *Sandbox
}

// NewRegistry creates a Registry over the given decoder store
func NewRegistry(store storage.DecoderStore, sandbox *Sandbox) *Registry {
	return &Registry{store: store, sandbox: sandbox}
}

// Decode runs the named decoder over one decrypted payload. An empty
// name means the raw built-in.
func (r *Registry) Decode(ctx context.Context, name string, payload []byte, fPort int) (any, error) {
	if name == "" || strings.EqualFold(name, BuiltinRaw) {
		return rawOutput(payload, fPort), nil
	}

	decoder, err := r.store.GetDecoder(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDecoderNotFound, name)
		}
		return nil, fmt.Errorf("load decoder: %w", err)
	}

	if decoder.Source == models.DecoderBuiltin {
		return rawOutput(payload, fPort), nil
	}

	return r.sandbox.Run(ctx, decoder.Script, payload, fPort)
}

// rawOutput is the built-in fallback: hex plus port, no interpretation
func rawOutput(payload []byte, fPort int) map[string]any {
	return map[string]any{
		"payload_hex": hex.EncodeToString(payload),
		"fport":       fPort,
	}
}
