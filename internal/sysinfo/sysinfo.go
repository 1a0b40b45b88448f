// Package sysinfo provides the builtin host collectors shipped with the
// daemon. Each collector reads one slice of system state via gopsutil and
// writes it to the shared store under the owning plugin's name.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/me/harvest/internal/plugin"
	"github.com/me/harvest/internal/scheduler"
	"github.com/me/harvest/internal/store"
	"github.com/me/harvest/pkg/model"
)

// Builtins returns the builtin collector factories, keyed by the names
// manifests reference.
func Builtins() map[string]plugin.Builtin {
	return map[string]plugin.Builtin{
		"cpu":    CPU,
		"memory": Memory,
		"host":   Host,
	}
}

func put(ctx context.Context, st store.Store, pluginName, key string, value any) error {
	return st.PutRecord(ctx, &model.Record{
		Plugin:      pluginName,
		Key:         key,
		Value:       value,
		CollectedAt: time.Now().UTC(),
	})
}

// CPU collects logical core count, total usage, and load averages.
func CPU(pluginName string) scheduler.CollectorFn {
	return func(ctx context.Context, st store.Store) error {
		counts, err := cpu.CountsWithContext(ctx, true)
		if err != nil {
			return fmt.Errorf("cpu counts: %w", err)
		}
		if err := put(ctx, st, pluginName, "cpu.count", counts); err != nil {
			return err
		}

		usage, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return fmt.Errorf("cpu usage: %w", err)
		}
		if len(usage) > 0 {
			if err := put(ctx, st, pluginName, "cpu.usage_percent", usage[0]); err != nil {
				return err
			}
		}

		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			// Load averages are unavailable on some platforms; the rest of
			// the sample is still worth keeping.
			return nil
		}
		return put(ctx, st, pluginName, "cpu.load", map[string]any{
			"load1":  avg.Load1,
			"load5":  avg.Load5,
			"load15": avg.Load15,
		})
	}
}

// Memory collects total, used, and used-percent of virtual memory.
func Memory(pluginName string) scheduler.CollectorFn {
	return func(ctx context.Context, st store.Store) error {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return fmt.Errorf("virtual memory: %w", err)
		}
		return put(ctx, st, pluginName, "memory", map[string]any{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		})
	}
}

// Host collects static host identity and uptime.
func Host(pluginName string) scheduler.CollectorFn {
	return func(ctx context.Context, st store.Store) error {
		info, err := host.InfoWithContext(ctx)
		if err != nil {
			return fmt.Errorf("host info: %w", err)
		}
		return put(ctx, st, pluginName, "host.meta", map[string]any{
			"hostname":         info.Hostname,
			"os":               info.OS,
			"platform":         info.Platform,
			"platform_version": info.PlatformVersion,
			"kernel_version":   info.KernelVersion,
			"uptime_seconds":   info.Uptime,
		})
	}
}
