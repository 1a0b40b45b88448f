package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/me/harvest/internal/scheduler"
	"github.com/me/harvest/internal/store"
	"github.com/me/harvest/pkg/model"
)

// newScriptFn builds a collector that evaluates JavaScript source with a
// fresh VM per run. The script must define collect(records); it is called
// with a map of dependency plugin name to that plugin's records and must
// return an array of {key, value} objects, which are written back to the
// store under the owning plugin's name.
func newScriptFn(pluginName, collectorName string, depNames []string, src string) scheduler.CollectorFn {
	deps := append([]string(nil), depNames...)

	return func(ctx context.Context, st store.Store) error {
		inputs := make(map[string]any, len(deps))
		for _, dep := range deps {
			recs, err := st.ListRecords(ctx, dep)
			if err != nil {
				return fmt.Errorf("script %s: list records of %s: %w", collectorName, dep, err)
			}
			entries := make([]map[string]any, 0, len(recs))
			for _, rec := range recs {
				entries = append(entries, map[string]any{
					"key":          rec.Key,
					"value":        rec.Value,
					"collected_at": rec.CollectedAt.Format(time.RFC3339Nano),
				})
			}
			inputs[dep] = entries
		}

		vm := goja.New()
		if _, err := vm.RunString(src); err != nil {
			return fmt.Errorf("script %s: %w", collectorName, err)
		}
		collect, ok := goja.AssertFunction(vm.Get("collect"))
		if !ok {
			return fmt.Errorf("script %s: collect(records) is not defined", collectorName)
		}

		result, err := collect(goja.Undefined(), vm.ToValue(inputs))
		if err != nil {
			return fmt.Errorf("script %s: collect: %w", collectorName, err)
		}

		items, ok := result.Export().([]any)
		if !ok {
			return fmt.Errorf("script %s: collect must return an array, got %T", collectorName, result.Export())
		}

		now := time.Now().UTC()
		for i, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("script %s: result[%d] is not an object", collectorName, i)
			}
			key, ok := entry["key"].(string)
			if !ok || key == "" {
				return fmt.Errorf("script %s: result[%d] has no string key", collectorName, i)
			}
			rec := &model.Record{
				Plugin:      pluginName,
				Key:         key,
				Value:       entry["value"],
				CollectedAt: now,
			}
			if err := st.PutRecord(ctx, rec); err != nil {
				return fmt.Errorf("script %s: put %s: %w", collectorName, key, err)
			}
		}
		return nil
	}
}
