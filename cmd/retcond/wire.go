package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kong/retcon/internal/config"
	"github.com/kong/retcon/pkg/datasource"
	"github.com/kong/retcon/pkg/kernel"
	"github.com/kong/retcon/pkg/mergepolicy"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/rerr"
	"github.com/kong/retcon/pkg/store"
	"github.com/kong/retcon/pkg/trace"
)

// buildKernel wires a Kernel from a parsed config file: one MemStore,
// one subprocess DataSource per configured source (spec §6's command
// templates), and a ZapSink logging at the configured level (spec §4.7
// "tracing is a side channel").
func buildKernel(cfg *config.Config) (*kernel.Kernel, error) {
	st, err := store.NewMemStore()
	if err != nil {
		return nil, rerr.Internal(fmt.Errorf("initializing store: %w", err))
	}

	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, rerr.Config("building logger: %v", err)
	}

	entities := map[model.EntityName]*kernel.EntityConfig{}
	for name, ec := range cfg.Entities {
		policy, err := mergepolicy.Parse(ec.MergePolicy)
		if err != nil {
			return nil, rerr.Config("entity %q: %v", name, err)
		}

		var reg datasource.Registry
		for sourceName, sc := range ec.Sources {
			reg.MustRegister(sourceName, &datasource.SubprocessDataSource{
				Entity:    name,
				Source:    sourceName,
				CreateCmd: sc.Create,
				ReadCmd:   sc.Read,
				UpdateCmd: sc.Update,
				DeleteCmd: sc.Delete,
			})
		}

		entities[name] = &kernel.EntityConfig{
			Sources: &reg,
			Policy:  policy,
		}
	}

	return &kernel.Kernel{
		Store:    st,
		Entities: entities,
		Sink:     trace.NewZapSink(logger),
	}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if level != "" {
		if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("unknown log level %q", level)
		}
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return zcfg.Build()
}
