package main

import (
	"github.com/alejandrodnm/poolwatch/config"
	"github.com/alejandrodnm/poolwatch/internal/application/engine/paper"
	"github.com/alejandrodnm/poolwatch/internal/application/governor"
	"github.com/alejandrodnm/poolwatch/internal/application/lifecycle"
	"github.com/alejandrodnm/poolwatch/internal/application/monitor"
	"github.com/alejandrodnm/poolwatch/internal/application/scheduler"
)

// Traduce la config YAML a la config de cada componente.

func governorConfig(cfg *config.Config) governor.Config {
	return governor.Config{
		MaxRequestsPerSecond:  cfg.Governor.MaxRequestsPerSecond,
		MaxConcurrentRequests: cfg.Governor.MaxConcurrentRequests,
		QueueCapacity:         cfg.Governor.QueueCapacity,
		OverloadQueueDepth:    cfg.Governor.OverloadQueueDepth,
		OverloadAfter:         cfg.OverloadAfter(),
	}
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Window:         cfg.MonitoringWindow(),
		Extension:      cfg.MonitoringExtension(),
		HealthInterval: cfg.HealthInterval(),
		Tiers: lifecycle.TierPolicy{
			HighTVL:        cfg.Priority.HighTVL,
			MediumTVL:      cfg.Priority.MediumTVL,
			HighInterval:   cfg.TierInterval("high"),
			MediumInterval: cfg.TierInterval("medium"),
			LowInterval:    cfg.TierInterval("low"),
		},
		Retry: lifecycle.RetryPolicy{
			YoungAge:      cfg.BaselineYoungAge(),
			YoungAttempts: cfg.Baseline.YoungAttempts,
			YoungSpacing:  cfg.YoungSpacing(),
			OldAttempts:   cfg.Baseline.OldAttempts,
			OldSpacing:    cfg.OldSpacing(),
			Ceiling:       cfg.BaselineCeiling(),
		},
		Scheduler: scheduler.Config{
			Tick:      cfg.SchedulerTick(),
			BatchSize: cfg.Governor.BatchSize,
			Interval: scheduler.IntervalPolicy{
				Min:              cfg.MinInterval(),
				Max:              cfg.MaxInterval(),
				MaxBackoff:       cfg.MaxBackoff(),
				Multiplier:       cfg.Scheduler.BackoffMultiplier,
				VolatilePricePct: cfg.Scheduler.VolatilePricePct,
				VolatileTVLPct:   cfg.Scheduler.VolatileTVLPct,
				CalmPricePct:     cfg.Scheduler.CalmPricePct,
				CalmTVLPct:       cfg.Scheduler.CalmTVLPct,
			},
		},
	}
}

func paperConfig(cfg *config.Config) paper.Config {
	t := cfg.Trading
	return paper.Config{
		Enabled:             t.IsEnabled(),
		MinPriceIncreasePct: t.MinPriceIncreasePct,
		MinTVLIncreasePct:   t.MinTVLIncreasePct,
		MinBaselineTVL:      t.MinBaselineTVL,
		Entry:               params(t.Entry),
		ReEntry:             params(t.ReEntry),
		Trailing: paper.Trailing{
			Enabled:          t.Trailing.IsEnabled(),
			ActivationPct:    t.Trailing.ActivationPct,
			DistancePct:      t.Trailing.DistancePct,
			BreakevenLockPct: t.Trailing.BreakevenLockPct,
		},
		CollapsePct:      t.CollapsePct,
		CollapseMinTVL:   t.CollapseMinTVL,
		MaxReEntries:     t.MaxReEntries,
		InitialBalance:   t.InitialBalance,
		MaxTradesPerHour: t.MaxTradesPerHour,
		MaxOpenPositions: t.MaxOpenPositions,
	}
}

func params(p config.ExitParams) paper.Params {
	return paper.Params{
		Amount:        p.Amount,
		TakeProfitPct: p.TakeProfitPct,
		StopLossPct:   p.StopLossPct,
		MaxHold:       p.MaxHold(),
	}
}
