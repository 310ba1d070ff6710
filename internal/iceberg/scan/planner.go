// Package scan groups planned file scan tasks into combined scan tasks.
package scan

import (
	"sort"

	"github.com/janovincze/snapstream/internal/iceberg"
)

// Config controls splitting and bin-packing of file scan tasks.
type Config struct {
	// SplitTargetSize is the target size in bytes of a combined task.
	SplitTargetSize int64

	// OpenFileCost is the minimum weight of a split, accounting for the
	// overhead of opening a file.
	OpenFileCost int64

	// Lookback is the number of bins kept open while packing.
	Lookback int
}

// DefaultConfig returns a Config with the Iceberg defaults.
func DefaultConfig() Config {
	return Config{
		SplitTargetSize: 128 << 20,
		OpenFileCost:    4 << 20,
		Lookback:        10,
	}
}

// Planner turns file scan tasks into combined scan tasks.
type Planner struct {
	config Config
}

// NewPlanner creates a planner, filling unset fields from DefaultConfig.
func NewPlanner(cfg Config) *Planner {
	def := DefaultConfig()
	if cfg.SplitTargetSize <= 0 {
		cfg.SplitTargetSize = def.SplitTargetSize
	}
	if cfg.OpenFileCost < 0 {
		cfg.OpenFileCost = 0
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	return &Planner{config: cfg}
}

// Plan splits large files and packs the splits into combined tasks. Input
// order is preserved within each combined task.
func (p *Planner) Plan(tasks []iceberg.FileScanTask) []iceberg.CombinedScanTask {
	if len(tasks) == 0 {
		return nil
	}

	var splits []iceberg.FileScanTask
	for _, t := range tasks {
		splits = append(splits, p.split(t)...)
	}
	return p.pack(splits)
}

// split breaks a file range at the writer's split offsets when present, or
// into fixed target-size pieces otherwise.
func (p *Planner) split(task iceberg.FileScanTask) []iceberg.FileScanTask {
	if task.Length <= p.config.SplitTargetSize {
		return []iceberg.FileScanTask{task}
	}

	end := task.Start + task.Length
	if offsets := validOffsets(task.File.SplitOffsets, task.Start, end); len(offsets) > 0 {
		bounds := append([]int64{task.Start}, offsets...)
		bounds = append(bounds, end)
		out := make([]iceberg.FileScanTask, 0, len(bounds)-1)
		for i := 0; i < len(bounds)-1; i++ {
			out = append(out, withRange(task, bounds[i], bounds[i+1]-bounds[i]))
		}
		return out
	}

	var out []iceberg.FileScanTask
	for offset := task.Start; offset < end; offset += p.config.SplitTargetSize {
		length := p.config.SplitTargetSize
		if offset+length > end {
			length = end - offset
		}
		out = append(out, withRange(task, offset, length))
	}
	return out
}

// validOffsets returns the sorted split offsets strictly inside (start, end).
func validOffsets(offsets []int64, start, end int64) []int64 {
	var valid []int64
	for _, o := range offsets {
		if o > start && o < end {
			valid = append(valid, o)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i] < valid[j] })

	var dedup []int64
	for _, o := range valid {
		if len(dedup) == 0 || o != dedup[len(dedup)-1] {
			dedup = append(dedup, o)
		}
	}
	return dedup
}

func withRange(task iceberg.FileScanTask, start, length int64) iceberg.FileScanTask {
	task.Start = start
	task.Length = length
	return task
}

type bin struct {
	weight int64
	files  []iceberg.FileScanTask
}

// pack places each split in the first open bin with room, opening a new bin
// otherwise. When more than Lookback bins are open the oldest is closed.
func (p *Planner) pack(splits []iceberg.FileScanTask) []iceberg.CombinedScanTask {
	var (
		open   []*bin
		result []iceberg.CombinedScanTask
	)

	for _, s := range splits {
		w := s.Length
		if w < p.config.OpenFileCost {
			w = p.config.OpenFileCost
		}

		var target *bin
		for _, b := range open {
			if b.weight+w <= p.config.SplitTargetSize {
				target = b
				break
			}
		}
		if target == nil {
			target = &bin{}
			open = append(open, target)
			if len(open) > p.config.Lookback {
				result = append(result, iceberg.CombinedScanTask{Files: open[0].files})
				open = open[1:]
			}
		}

		target.weight += w
		target.files = append(target.files, s)
	}

	for _, b := range open {
		result = append(result, iceberg.CombinedScanTask{Files: b.files})
	}
	return result
}
