package dataset

import (
	"sort"

	"github.com/smoosense/smoosense/internal/resolver"
)

// Group is a set of files the strategy considers one logical table.
type Group struct {
	Format Format
	Files  []resolver.Entry
}

// GroupingStrategy decides which files under a directory form a dataset.
// It receives the directory entries (or the recursive file walk, depending
// on the strategy's Recursive flag) and returns groups in a stable order.
type GroupingStrategy struct {
	// Name identifies the strategy in logs
	Name string

	// Recursive requests a full walk instead of a single-level listing
	Recursive bool

	// Group partitions the entries
	Group func(dir string, entries []resolver.Entry) []Group
}

// GroupByFormat treats all files of one format directly inside a directory
// as one partitioned dataset. Mixed directories yield one group per format.
func GroupByFormat() GroupingStrategy {
	return GroupingStrategy{Name: "by-format", Group: groupByFormat}
}

// GroupByFormatRecursive behaves like GroupByFormat but also collects files
// from nested partition directories such as "year=2024/month=01".
func GroupByFormatRecursive() GroupingStrategy {
	return GroupingStrategy{Name: "by-format-recursive", Recursive: true, Group: groupByFormat}
}

func groupByFormat(_ string, entries []resolver.Entry) []Group {
	byFormat := make(map[Format][]resolver.Entry)
	for _, e := range entries {
		if e.IsDir || e.Hidden() {
			continue
		}
		f := DetectFormat(e.Name)
		if f == FormatUnknown {
			continue
		}
		byFormat[f] = append(byFormat[f], e)
	}

	groups := make([]Group, 0, len(byFormat))
	for f, files := range byFormat {
		sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
		groups = append(groups, Group{Format: f, Files: files})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Format < groups[j].Format })
	return groups
}
