package dispatch

import (
	"context"
	"time"

	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// Adapter is the provider-adapter surface the dispatcher drives. Defined
// here rather than in the providers package to avoid an import cycle: each
// concrete adapter package imports dispatch for RetryConfig/IsRetryable,
// not the other way around.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req *types.Request) (*types.Response, error)
	GenerateStream(ctx context.Context, req *types.Request) (<-chan types.StreamChunk, <-chan error)
}

// Registry maps provider names to their constructed adapters.
type Registry map[string]Adapter

// Resolve selects the adapter for a request: an explicit per-request
// override wins when the inbound surface provided one, else the configured
// default. It fails with ProviderDisabledError when the chosen provider
// lacks the auth material its enabled predicate requires.
func Resolve(cfg *config.Config, reg Registry, req *types.Request) (Adapter, error) {
	name := cfg.AIProvider
	if req.Provider != "" {
		name = req.Provider
	}
	if !cfg.Enabled(name) {
		return nil, &gwerrors.ProviderDisabledError{Provider: name, Reason: "missing API key or auth record"}
	}
	adapter, ok := reg[name]
	if !ok {
		return nil, &gwerrors.ProviderDisabledError{Provider: name, Reason: "no adapter registered"}
	}
	return adapter, nil
}

// Timeouts bundles the two timeout knobs: the total budget for the
// inbound request, and the budget for a single upstream
// fetch (retries each get their own upstream timeout within the same
// request timeout).
type Timeouts struct {
	Request  time.Duration
	Upstream time.Duration
}

// DefaultTimeouts matches the config defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{Request: 3600 * time.Second, Upstream: 1800 * time.Second}
}

// Dispatcher wires adapter resolution, retries, and timeouts together for
// one inbound request.
type Dispatcher struct {
	cfg      *config.Config
	registry Registry
	retry    RetryConfig
	timeouts Timeouts
}

// New builds a Dispatcher over the given config and adapter registry.
func New(cfg *config.Config, registry Registry) *Dispatcher {
	return &Dispatcher{cfg: cfg, registry: registry, retry: DefaultRetryConfig(), timeouts: DefaultTimeouts()}
}

// Generate resolves a provider and invokes its non-streaming Generate under
// the retry policy, with a per-request timeout bounding the whole call.
func (d *Dispatcher) Generate(ctx context.Context, req *types.Request) (*types.Response, error) {
	adapter, err := Resolve(d.cfg, d.registry, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Request)
	defer cancel()

	var resp *types.Response
	err = Do(ctx, d.retry, func(ctx context.Context) error {
		upstreamCtx, upstreamCancel := context.WithTimeout(ctx, d.timeouts.Upstream)
		defer upstreamCancel()
		r, genErr := adapter.Generate(upstreamCtx, req)
		if genErr != nil {
			return genErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GenerateStream resolves a provider and relays its stream channels through
// a goroutine that cancels the request-timeout context once the stream ends.
// Streaming requests are not retried: a connection failure, before or after
// the first event, is delivered on the error channel as is.
func (d *Dispatcher) GenerateStream(ctx context.Context, req *types.Request) (<-chan types.StreamChunk, <-chan error, error) {
	adapter, err := Resolve(d.cfg, d.registry, req)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Request)
	chunks, errs := adapter.GenerateStream(ctx, req)

	// Forward both channels through so cancel can be called deterministically
	// once the adapter's stream loop actually ends, instead of leaking the
	// timeout timer until its deadline fires.
	outChunks := make(chan types.StreamChunk)
	outErrs := make(chan error)
	go func() {
		defer cancel()
		defer close(outChunks)
		defer close(outErrs)
		for chunks != nil || errs != nil {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				select {
				case outChunks <- c:
				case <-ctx.Done():
					return
				}
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				select {
				case outErrs <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return outChunks, outErrs, nil
}
