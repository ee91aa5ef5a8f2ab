package loggers

import (
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/sirupsen/logrus"
)

const (
	App        = "app"
	SwapEngine = "swap_engine"
	Multisig   = "multisig"
	Validator  = "validator"
	Adapter    = "adapter"
	Store      = "store"
	Fee        = "fee"
)

var w *loggerWrapper

type loggerWrapper struct {
	loggers map[string]*logrus.Entry
}

func InitializeLogger(config *repo.Config) {
	m := make(map[string]*logrus.Entry)
	m[App] = NewWithModule(App)
	m[App].Logger.SetLevel(ParseLevel(config.Log.Module.App))
	m[SwapEngine] = NewWithModule(SwapEngine)
	m[SwapEngine].Logger.SetLevel(ParseLevel(config.Log.Module.SwapEngine))
	m[Multisig] = NewWithModule(Multisig)
	m[Multisig].Logger.SetLevel(ParseLevel(config.Log.Module.Multisig))
	m[Validator] = NewWithModule(Validator)
	m[Validator].Logger.SetLevel(ParseLevel(config.Log.Module.Validator))
	m[Adapter] = NewWithModule(Adapter)
	m[Adapter].Logger.SetLevel(ParseLevel(config.Log.Module.Adapter))
	m[Store] = NewWithModule(Store)
	m[Store].Logger.SetLevel(ParseLevel(config.Log.Module.Store))
	m[Fee] = NewWithModule(Fee)
	m[Fee].Logger.SetLevel(ParseLevel(config.Log.Module.Fee))

	w = &loggerWrapper{loggers: m}
}

func Logger(name string) logrus.FieldLogger {
	if w == nil {
		return NewWithModule(name)
	}

	if logger, ok := w.loggers[name]; ok {
		return logger
	}

	return NewWithModule(name)
}
