package detector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/loykin/autosd/internal/metrics"
)

// Matcher answers liveness queries against a process Table.
// It holds no per-schedule state; tracked PIDs are passed in and returned.
type Matcher struct {
	table Table
}

// NewMatcher returns a Matcher over t. A nil table uses the live system table.
func NewMatcher(t Table) *Matcher {
	if t == nil {
		t = SystemTable{}
	}
	return &Matcher{table: t}
}

// IsRunning evaluates sel in layer order: PID tree, previously tracked PIDs,
// executable/cmdline criteria, then bare name. MatchedPIDs is the sorted union
// of all live PIDs confirmed this scan and should become the next tracked set.
func (m *Matcher) IsRunning(ctx context.Context, sel Selector, tracked []int) (Result, error) {
	started := time.Now()
	sel = sel.Normalize()
	wantExe := normalizePath(sel.Executable)
	wantCmd := strings.ToLower(sel.CmdlineContains)
	wantName := strings.ToLower(sel.Name)
	advanced := wantExe != "" || wantCmd != ""

	procs, err := m.table.Snapshot(ctx, Query{Exe: wantExe != "", Cmdline: wantCmd != ""})
	if err != nil {
		return Result{}, err
	}
	alive := make(map[int]struct{}, len(procs))
	for _, p := range procs {
		alive[p.PID] = struct{}{}
	}
	isAlive := func(pid int) bool { _, ok := alive[pid]; return ok }

	next := make(map[int]struct{}, len(tracked))
	for _, pid := range tracked {
		next[pid] = struct{}{}
	}
	res := Result{Source: SourceNone}

	if sel.PID > 0 {
		tree := collectTree(sel.PID, childrenIndex(procs), isAlive)
		if len(tree) > 0 {
			res.Running, res.Source = true, SourcePIDTree
			for _, pid := range tree {
				next[pid] = struct{}{}
			}
		}
	}

	for pid := range next {
		if !isAlive(pid) {
			delete(next, pid)
		}
	}
	if !res.Running && len(next) > 0 {
		res.Running, res.Source = true, SourceTrackedPIDs
	}

	dataUnavailable := false
	if !res.Running && advanced {
		var hits []int
		for _, p := range procs {
			if wantExe != "" {
				if !p.ExeOK {
					dataUnavailable = true
					continue
				}
				if normalizePath(p.Exe) != wantExe {
					continue
				}
			}
			if wantCmd != "" {
				if !p.CmdlineOK {
					dataUnavailable = true
					continue
				}
				if !strings.Contains(strings.ToLower(strings.Join(p.Cmdline, " ")), wantCmd) {
					continue
				}
			}
			hits = append(hits, p.PID)
		}
		if len(hits) > 0 {
			res.Running, res.Source = true, SourceAdvanced
			for _, pid := range hits {
				next[pid] = struct{}{}
			}
		}
	}

	allowName := wantName != "" && (!IsShellLike(wantName) || advanced)
	if !res.Running && allowName {
		var hits []int
		for _, p := range procs {
			if strings.ToLower(p.Name) == wantName {
				hits = append(hits, p.PID)
			}
		}
		if len(hits) > 0 {
			res.Running, res.Source = true, SourceNameFallback
			for _, pid := range hits {
				next[pid] = struct{}{}
			}
		}
	}

	res.MatchedPIDs = make([]int, 0, len(next))
	for pid := range next {
		res.MatchedPIDs = append(res.MatchedPIDs, pid)
	}
	sort.Ints(res.MatchedPIDs)
	res.Degraded = advanced && dataUnavailable && res.Source == SourceNameFallback

	metrics.ObserveScan(string(res.Source), time.Since(started).Seconds())
	return res, nil
}

// List returns named processes sorted by name, then PID.
func (m *Matcher) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := m.table.Snapshot(ctx, Query{Exe: true, Start: true})
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if p.Name == "" {
			continue
		}
		info := ProcessInfo{PID: p.PID, Name: p.Name, StartUnix: p.StartUnix}
		if p.ExeOK {
			info.Executable = p.Exe
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PID < out[j].PID
	})
	return out, nil
}
