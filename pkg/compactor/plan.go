package compactor

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/clog"
	"github.com/cuemby/chronicle/pkg/fileindex"
)

var genPathRE = regexp.MustCompile(`/gen(\d+)/`)

// generationOf returns the generation parsed from a file's path. A path
// with no "/gen<L>/" segment at all defaults to level 1; a segment whose
// level falls outside 1..5 is an error, and the file is excluded from
// planning rather than re-bucketed as fresh generation-1 data. Even
// though ParquetFile already carries an authoritative Generation field
// from the write that produced it, compaction buckets from the path
// instead so a foreign or hand-placed file without trustworthy metadata
// is still handled consistently.
func generationOf(f catalog.ParquetFile) (catalog.Generation, error) {
	m := genPathRE.FindStringSubmatch(f.Path)
	if m == nil {
		return 1, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 5 {
		return 0, fmt.Errorf("compactor: invalid generation number %s in path %s", m[1], f.Path)
	}
	return catalog.Generation(n), nil
}

// job is one planned compaction: rewrite inputs of generation Source
// into one or more files of generation Target for (DbID, TableID).
type job struct {
	DbID   catalog.DbID
	Table  catalog.Table
	Source catalog.Generation
	Target catalog.Generation
	Inputs []catalog.ParquetFile
}

// planJobs groups key's registered files by generation and emits one
// job per eligible generation.
func (c *Compactor) planJobs(key fileindex.TableKey, table catalog.Table) []job {
	files := c.index.Get(key)
	if len(files) == 0 {
		return nil
	}

	logger := clog.WithComponent("compactor")
	byGen := make(map[catalog.Generation][]catalog.ParquetFile)
	for _, f := range files {
		g, err := generationOf(f)
		if err != nil {
			logger.Warn().Err(err).Uint64("file_id", f.ID).Msg("excluding file from compaction planning")
			continue
		}
		byGen[g] = append(byGen[g], f)
	}

	var jobs []job
	for source, inputs := range byGen {
		if source >= 5 {
			continue
		}
		if len(inputs) < c.cfg.MinFilesForCompaction {
			continue
		}
		target := source + 1
		duration, ok := c.cat.GenerationDuration(target)
		if !ok {
			continue
		}

		sort.Slice(inputs, func(i, j int) bool { return inputs[i].MinTime < inputs[j].MinTime })
		span := spanOf(inputs)
		if span < duration.Nanoseconds() {
			continue
		}

		jobs = append(jobs, job{
			DbID:   key.DbID,
			Table:  table,
			Source: source,
			Target: target,
			Inputs: inputs,
		})
	}
	return jobs
}

func spanOf(files []catalog.ParquetFile) int64 {
	if len(files) == 0 {
		return 0
	}
	min, max := files[0].MinTime, files[0].MaxTime
	for _, f := range files[1:] {
		if f.MinTime < min {
			min = f.MinTime
		}
		if f.MaxTime > max {
			max = f.MaxTime
		}
	}
	return max - min
}
