// Package scheduler splits a file list into contiguous shards and runs one
// sequential worker per shard.
package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Plan describes how a file list is split across workers.
type Plan struct {
	Workers       int
	FilesPerShard int
	Extra         int
	Sequential    bool
}

// NewPlan computes the shard plan for n files and the requested worker count.
func NewPlan(n, workers int) Plan {
	if workers <= 1 || n <= workers {
		return Plan{Workers: 1, FilesPerShard: n, Sequential: true}
	}
	return Plan{Workers: workers, FilesPerShard: n / workers, Extra: n % workers}
}

// Partition splits files into contiguous shards. When the plan is sequential
// there is a single shard holding every file. Otherwise there are exactly
// workers shards of len(files)/workers files, and the last len(files)%workers
// shards carry one extra file each.
func Partition(files []string, workers int) [][]string {
	plan := NewPlan(len(files), workers)
	if plan.Sequential {
		if len(files) == 0 {
			return nil
		}
		return [][]string{files}
	}

	shards := make([][]string, 0, plan.Workers)
	start := 0
	for i := range plan.Workers {
		size := plan.FilesPerShard
		if i >= plan.Workers-plan.Extra {
			size++
		}
		shards = append(shards, files[start:start+size])
		start += size
	}
	return shards
}

// Run calls fn for every file, one goroutine per shard, and waits for all of
// them. Each worker checks ctx before taking its next file; a cancelled
// context stops dispatch and Run returns ctx.Err().
func Run(ctx context.Context, files []string, workers int, fn func(path string)) error {
	shards := Partition(files, workers)
	if len(shards) == 1 {
		return runShard(ctx, shards[0], fn)
	}

	var g errgroup.Group
	for _, shard := range shards {
		g.Go(func() error {
			return runShard(ctx, shard, fn)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func runShard(ctx context.Context, shard []string, fn func(string)) error {
	for _, path := range shard {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(path)
	}
	return nil
}
