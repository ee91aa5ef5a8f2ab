package app

import (
	"context"
	"fmt"

	"github.com/crossmesh/ferry/internal/adapter/factory"
	"github.com/crossmesh/ferry/internal/events"
	"github.com/crossmesh/ferry/internal/fee"
	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/crossmesh/ferry/internal/multisig"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/crossmesh/ferry/internal/store"
	"github.com/crossmesh/ferry/internal/swap"
	"github.com/crossmesh/ferry/internal/validator"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
)

// localValidators is the size of the in-process validator set spun up
// when no external validators are configured.
const localValidators = 3

// Ferry assembles the bridge: store, adapter factory, validator
// network, multisig service and the swap engine, in dependency order.
type Ferry struct {
	config  *repo.Config
	st      *store.LevelStore
	hub     *events.Hub
	factory *factory.Factory
	network *validator.Network
	service *multisig.Service
	fees    *fee.Calculator
	engine  *swap.Engine
	logger  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(config *repo.Config) (*Ferry, error) {
	loggers.InitializeLogger(config)
	logger := loggers.Logger(loggers.App)

	st, err := store.New(repo.StoragePath(config.RepoRoot), loggers.Logger(loggers.Store))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hub := events.NewHub(loggers.Logger(loggers.App))
	f := factory.New(config.ChainMap(), loggers.Logger(loggers.Adapter))

	network := validator.New(config.Validator, f, st, loggers.Logger(loggers.Validator))
	if err := registerValidators(network, config); err != nil {
		_ = st.Close()
		return nil, err
	}

	service := multisig.New(config.Multisig.Threshold, network, st, hub, loggers.Logger(loggers.Multisig))
	service.SetReporter(network)
	network.SetService(service)

	fees, err := fee.NewCalculator(config.Fee, loggers.Logger(loggers.Fee))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine := swap.New(f, st, service, hub, fees, config.Bridge, loggers.Logger(loggers.SwapEngine))
	engine.SetAttestor(network)

	ctx, cancel := context.WithCancel(context.Background())

	return &Ferry{
		config:  config,
		st:      st,
		hub:     hub,
		factory: f,
		network: network,
		service: service,
		fees:    fees,
		engine:  engine,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func registerValidators(network *validator.Network, config *repo.Config) error {
	if len(config.Multisig.Validators) == 0 {
		for i := 1; i <= localValidators; i++ {
			id := fmt.Sprintf("local-%d", i)
			if _, err := network.RegisterLocal(id); err != nil {
				return fmt.Errorf("register local validator %s: %w", id, err)
			}
		}
		return nil
	}

	for _, v := range config.Multisig.Validators {
		if err := network.Register(v.ID, v.Address); err != nil {
			return fmt.Errorf("register validator %s: %w", v.ID, err)
		}
	}

	return nil
}

func (f *Ferry) Start() error {
	if err := f.network.Start(); err != nil {
		return fmt.Errorf("start validator network: %w", err)
	}

	if err := f.engine.Start(); err != nil {
		return fmt.Errorf("start swap engine: %w", err)
	}

	err := repo.WatchChains(f.ctx, f.config.RepoRoot, f.logger, f.factory.Reload)
	if err != nil {
		f.logger.WithField("error", err).Warn("Chain config hot reload disabled")
	}

	f.logger.WithFields(logrus.Fields{
		"chains":     len(f.config.Chains),
		"threshold":  f.config.Multisig.Threshold,
		"validators": len(f.network.Snapshot()),
	}).Info("Ferry started")

	return nil
}

func (f *Ferry) Stop() error {
	f.cancel()

	if err := f.engine.Stop(); err != nil {
		f.logger.WithField("error", err).Warn("Stop swap engine")
	}

	if err := f.network.Stop(); err != nil {
		f.logger.WithField("error", err).Warn("Stop validator network")
	}

	f.factory.Stop()

	if err := f.st.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	f.logger.Info("Ferry stopped")

	return nil
}

// Engine exposes the swap engine to the API layer.
func (f *Ferry) Engine() *swap.Engine {
	return f.engine
}

// Multisig exposes the validation service to the API layer.
func (f *Ferry) Multisig() *multisig.Service {
	return f.service
}

// Events exposes the lifecycle event hub to observers.
func (f *Ferry) Events() *events.Hub {
	return f.hub
}

// ValidatorHealth reports the current state of every validator.
func (f *Ferry) ValidatorHealth() []model.ValidatorNode {
	return f.network.Snapshot()
}
