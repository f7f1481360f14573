package detector

import (
	"context"
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Proc is a point-in-time view of one OS process.
// ExeOK and CmdlineOK are false when the OS refused or could not provide
// the value (permissions, zombie, kernel thread).
type Proc struct {
	PID       int
	PPID      int
	Name      string
	Exe       string
	ExeOK     bool
	Cmdline   []string
	CmdlineOK bool
	StartUnix int64
}

// Query selects the optional, more expensive fields of a snapshot.
type Query struct {
	Exe     bool
	Cmdline bool
	Start   bool
}

// Table enumerates processes. Implementations must be safe for concurrent use.
type Table interface {
	Snapshot(ctx context.Context, q Query) ([]Proc, error)
}

// SystemTable reads the live process table through gopsutil.
type SystemTable struct{}

func (SystemTable) Snapshot(ctx context.Context, q Query) ([]Proc, error) {
	ps, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	out := make([]Proc, 0, len(ps))
	for _, p := range ps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pr := Proc{PID: int(p.Pid)}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			pr.PPID = int(ppid)
		}
		if name, err := p.NameWithContext(ctx); err == nil {
			pr.Name = name
		}
		if q.Exe {
			if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
				pr.Exe, pr.ExeOK = exe, true
			}
		}
		if q.Cmdline {
			if args, err := p.CmdlineSliceWithContext(ctx); err == nil && len(args) > 0 {
				pr.Cmdline, pr.CmdlineOK = args, true
			}
		}
		if q.Start {
			if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
				pr.StartUnix = ms / 1000
			}
		}
		out = append(out, pr)
	}
	return out, nil
}
