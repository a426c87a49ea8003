// Package workload drives a synthetic set of local tasks through a LocalSet
// and reports what the scheduler did. It backs the `localset run` command.
package workload

import (
	"context"
	"fmt"
	"time"

	localset "github.com/Swind/go-localset"
	"github.com/Swind/go-localset/core"
)

// Options describes one workload run.
type Options struct {
	Batches int
	Tasks   int
	Depth   int
	Sleep   time.Duration
}

// Report summarizes a finished run.
type Report struct {
	LocalSet  string        `yaml:"localset"`
	Host      string        `yaml:"host"`
	Batches   int           `yaml:"batches"`
	Spawned   int           `yaml:"spawned"`
	Checksum  int           `yaml:"checksum"`
	Elapsed   time.Duration `yaml:"elapsed"`
	Ticks     uint64        `yaml:"ticks"`
	Polled    uint64        `yaml:"polled"`
	Completed uint64        `yaml:"completed"`
	Panicked  uint64        `yaml:"panicked"`
	// MaxTickPolled is the largest number of tasks any recorded tick polled.
	MaxTickPolled int `yaml:"max_tick_polled"`
	// Shared is the number of send tasks run on the multi-thread host.
	Shared uint64 `yaml:"shared,omitempty"`
}

// Run spawns opts.Tasks root tasks per batch onto ls and drives each batch
// with one BlockOn on host. Every root task spawns a chain of opts.Depth
// nested local tasks; the leaf sleeps for opts.Sleep and, when host is a
// *localset.Runtime, awaits a send task on its workers.
func Run(ctx context.Context, ls *localset.LocalSet, host core.Sleeper, opts Options) (Report, error) {
	report := Report{
		LocalSet: ls.Name(),
		Host:     hostName(host),
		Batches:  opts.Batches,
	}
	start := time.Now()

	for b := 0; b < opts.Batches; b++ {
		sums, err := localset.BlockOn(ls, host, ctx, localset.Lazy(func(ctx context.Context) localset.Future[[]int] {
			roots := make([]localset.Future[int], opts.Tasks)
			for i := range roots {
				roots[i] = localset.SpawnLocal(ctx, chain(host, opts, opts.Depth, i)).Await()
			}
			return localset.JoinAll(roots...)
		}))
		if err != nil {
			return report, fmt.Errorf("batch %d: %w", b, err)
		}
		for _, v := range sums {
			report.Checksum += v
		}
		report.Spawned += opts.Tasks * (opts.Depth + 1)
	}

	report.Elapsed = time.Since(start)
	stats := ls.Stats()
	report.Ticks = stats.Ticks
	report.Polled = stats.Polled
	report.Completed = stats.Completed
	report.Panicked = stats.Panicked
	for _, rec := range ls.RecentTicks(0) {
		report.MaxTickPolled = max(report.MaxTickPolled, rec.Polled)
	}
	if rt, ok := host.(*localset.Runtime); ok {
		report.Shared = rt.Stats().Spawned
	}
	return report, nil
}

// chain returns a task that spawns depth nested children and adds one to
// whatever the innermost returns. The innermost returns v.
func chain(host core.Sleeper, opts Options, depth, v int) localset.Future[int] {
	if depth == 0 {
		return leaf(host, opts, v)
	}
	return localset.Lazy(func(ctx context.Context) localset.Future[int] {
		child := localset.SpawnLocal(ctx, chain(host, opts, depth-1, v))
		return localset.Map(child.Await(), func(n int) int { return n + 1 })
	})
}

func leaf(host core.Sleeper, opts Options, v int) localset.Future[int] {
	return localset.Then(host.Sleep(opts.Sleep), func(ctx context.Context, _ struct{}) localset.Future[int] {
		if rt, ok := host.(*localset.Runtime); ok {
			return localset.SpawnShared(rt, localset.Ready(v)).Await()
		}
		return localset.Ready(v)
	})
}

// Checksum returns the checksum Run reports for opts.
func Checksum(opts Options) int {
	perBatch := 0
	for i := 0; i < opts.Tasks; i++ {
		perBatch += i + opts.Depth
	}
	return perBatch * opts.Batches
}

func hostName(host core.Sleeper) string {
	switch host.(type) {
	case *localset.Runtime:
		return "multi_thread"
	case *core.CurrentThread:
		return "current_thread"
	default:
		return fmt.Sprintf("%T", host)
	}
}
