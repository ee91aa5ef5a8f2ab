package factory

import (
	"fmt"
	"sync"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/adapter/cosmos"
	"github.com/crossmesh/ferry/internal/adapter/evm"
	"github.com/crossmesh/ferry/internal/adapter/generic"
	"github.com/crossmesh/ferry/internal/adapter/layer2"
	"github.com/crossmesh/ferry/internal/adapter/solana"
	"github.com/crossmesh/ferry/internal/adapter/substrate"
	"github.com/crossmesh/ferry/internal/adapter/utxo"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/sirupsen/logrus"
)

// Factory resolves chain ids to adapter instances. Constructions are
// cached; concurrent first accesses for the same chain id race on a
// per-entry once, so exactly one adapter is ever built per chain.
// Failed constructions are not cached and a later lookup rebuilds.
type Factory struct {
	mu      sync.Mutex
	chains  map[string]*repo.Chain
	entries map[string]*entry
	logger  logrus.FieldLogger

	// overridable for tests
	build func(config *repo.Chain) (adapter.ChainAdapter, error)
}

type entry struct {
	once    sync.Once
	adapter adapter.ChainAdapter
	err     error
}

func New(chains map[string]*repo.Chain, logger logrus.FieldLogger) *Factory {
	f := &Factory{
		chains:  chains,
		entries: make(map[string]*entry),
		logger:  logger,
	}
	f.build = f.construct

	return f
}

// Get returns the adapter for chainID, constructing and starting it on
// first access.
func (f *Factory) Get(chainID string) (adapter.ChainAdapter, error) {
	f.mu.Lock()
	config, ok := f.chains[chainID]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("chain %s is not configured", chainID)
	}

	e, ok := f.entries[chainID]
	if !ok {
		e = &entry{}
		f.entries[chainID] = e
	}
	f.mu.Unlock()

	e.once.Do(func() {
		e.adapter, e.err = f.build(config)
		if e.err == nil {
			e.err = e.adapter.Start()
		}
		if e.err != nil {
			e.err = fmt.Errorf("initialize adapter for chain %s: %w", chainID, e.err)
		}
	})

	if e.err != nil {
		f.mu.Lock()
		if f.entries[chainID] == e {
			delete(f.entries, chainID)
		}
		f.mu.Unlock()
		return nil, e.err
	}

	return e.adapter, nil
}

// Has reports whether chainID is configured.
func (f *Factory) Has(chainID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.chains[chainID]
	return ok
}

// Reload swaps in a new chain set. Adapters for chains that were
// removed or whose endpoint changed are stopped and dropped, so the
// next lookup rebuilds them from the fresh config.
func (f *Factory) Reload(chains []repo.Chain) {
	next := make(map[string]*repo.Chain, len(chains))
	for i := range chains {
		next[chains[i].ChainID] = &chains[i]
	}

	f.mu.Lock()
	var stale []*entry
	for chainID, e := range f.entries {
		config, kept := next[chainID]
		if kept && config.Endpoint == f.chains[chainID].Endpoint {
			continue
		}

		stale = append(stale, e)
		delete(f.entries, chainID)
		f.logger.WithField("chain", chainID).Info("Adapter invalidated by config reload")
	}
	f.chains = next
	f.mu.Unlock()

	for _, e := range stale {
		if e.adapter != nil {
			if err := e.adapter.Stop(); err != nil {
				f.logger.WithField("error", err).Warn("Stop stale adapter")
			}
		}
	}
}

// Stop stops every constructed adapter.
func (f *Factory) Stop() {
	f.mu.Lock()
	entries := make([]*entry, 0, len(f.entries))
	for _, e := range f.entries {
		entries = append(entries, e)
	}
	f.entries = make(map[string]*entry)
	f.mu.Unlock()

	for _, e := range entries {
		if e.adapter != nil {
			if err := e.adapter.Stop(); err != nil {
				f.logger.WithField("error", err).Warn("Stop adapter")
			}
		}
	}
}

func (f *Factory) construct(config *repo.Chain) (adapter.ChainAdapter, error) {
	family, err := adapter.ParseFamily(config.Family)
	if err != nil {
		return nil, err
	}

	switch family {
	case adapter.FamilyEVM:
		return evm.New(config, f.logger)
	case adapter.FamilySolana:
		return solana.New(config, f.logger)
	case adapter.FamilyCosmos:
		return cosmos.New(config, f.logger)
	case adapter.FamilySubstrate:
		return substrate.New(config, f.logger)
	case adapter.FamilyLayer2:
		return layer2.New(config, f.logger)
	case adapter.FamilyUTXO:
		return utxo.New(config, f.logger)
	case adapter.FamilyGeneric:
		return generic.New(config, f.logger)
	default:
		return nil, fmt.Errorf("unhandled chain family %s", family)
	}
}
