package health

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
)

// LocalSource reads cpu and memory utilization of the local host. It
// reports the same figures for every component, which suits a daemon
// monitoring the machine it runs on. Response time and error rate stay
// zero; they only apply to sources that front remote services.
type LocalSource struct{}

// NewLocalSource creates a host-local metrics source.
func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

// GetComponentMetrics implements core.MetricsSource.
func (s *LocalSource) GetComponentMetrics(ctx context.Context, _ string) (core.Metrics, error) {
	var metrics core.Metrics

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return core.Metrics{}, err
	}
	if len(percents) > 0 {
		metrics.CPU = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return core.Metrics{}, err
	}
	metrics.Memory = vm.UsedPercent

	return metrics, nil
}
