package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ErrAllProvidersUnavailable is returned by Gateway.Analyze when every
// registered provider errored or timed out. Partial failure is not an error.
var ErrAllProvidersUnavailable = errors.New("vision: all providers unavailable")

type GatewayConfig struct {
	Providers []Provider

	// Defaults.
	PerProviderTimeout time.Duration // default 8s
	Deadline           time.Duration // default 15s, whole fan-out
	Logger             *slog.Logger
}

// Gateway fans an image out to every registered provider concurrently and
// joins the normalized results.
type Gateway struct {
	providers          []Provider
	perProviderTimeout time.Duration
	deadline           time.Duration
	logger             *slog.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one Provider is required")
	}
	seen := map[string]struct{}{}
	for _, p := range cfg.Providers {
		if p == nil || p.ID() == "" {
			return nil, fmt.Errorf("providers must be non-nil with a non-empty ID")
		}
		if _, dup := seen[p.ID()]; dup {
			return nil, fmt.Errorf("duplicate provider ID %q", p.ID())
		}
		seen[p.ID()] = struct{}{}
	}
	g := &Gateway{
		providers:          cfg.Providers,
		perProviderTimeout: cfg.PerProviderTimeout,
		deadline:           cfg.Deadline,
		logger:             cfg.Logger,
	}
	if g.perProviderTimeout <= 0 {
		g.perProviderTimeout = 8 * time.Second
	}
	if g.deadline <= 0 {
		g.deadline = 15 * time.Second
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g, nil
}

// Analyze dispatches one call per provider and returns one Result per
// provider, sorted by provider ID so output is deterministic. Calls still in
// flight when the gateway deadline elapses are abandoned and reported as
// timeouts. Only the case where no provider succeeded is an error.
func (g *Gateway) Analyze(ctx context.Context, img Image) ([]Result, error) {
	if len(img.Bytes) == 0 {
		return nil, fmt.Errorf("image bytes are required")
	}

	gctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	type indexed struct {
		i int
		r Result
	}
	ch := make(chan indexed, len(g.providers))

	for i, p := range g.providers {
		go func(i int, p Provider) {
			pctx, pcancel := context.WithTimeout(gctx, g.perProviderTimeout)
			defer pcancel()
			ch <- indexed{i: i, r: g.callProvider(pctx, p, img)}
		}(i, p)
	}

	results := make([]Result, len(g.providers))
	received := make([]bool, len(g.providers))
	pending := len(g.providers)

collect:
	for pending > 0 {
		select {
		case in := <-ch:
			results[in.i] = in.r
			received[in.i] = true
			pending--
		case <-gctx.Done():
			break collect
		}
	}

	// Abandoned calls: we stop waiting, they are recorded as timeouts.
	for i, p := range g.providers {
		if received[i] {
			continue
		}
		g.logger.Warn("vision provider abandoned at gateway deadline", "provider", p.ID())
		results[i] = Result{
			ProviderID: p.ID(),
			Err:        &ProviderError{Provider: p.ID(), Kind: ErrorKindTimeout, Err: gctx.Err()},
		}
	}

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	if ok == 0 {
		return nil, ErrAllProvidersUnavailable
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ProviderID < results[j].ProviderID
	})
	return results, nil
}

func (g *Gateway) callProvider(ctx context.Context, p Provider, img Image) Result {
	r, err := p.Analyze(ctx, img)
	if err != nil {
		perr := classify(p.ID(), err)
		g.logger.Warn("vision provider failed", "provider", p.ID(), "kind", string(perr.Kind), "err", err)
		return Result{ProviderID: p.ID(), Err: perr}
	}
	r.ProviderID = p.ID()
	r.Err = nil
	return r
}

func classify(providerID string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.Provider == "" {
			perr.Provider = providerID
		}
		return perr
	}
	kind := ErrorKindUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = ErrorKindTimeout
	}
	return &ProviderError{Provider: providerID, Kind: kind, Err: err}
}
