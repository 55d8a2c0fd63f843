package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// maxDepth bounds the walk of the process tree below the relay. Chrome
// nests its renderer and GPU processes two levels deep.
const maxDepth = 3

type ProcessInfo struct {
	PID        int32   `json:"pid"`
	PPID       int32   `json:"ppid,omitempty"`
	Name       string  `json:"name"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Browser    bool    `json:"browser"`
}

type ProcessReport struct {
	SampledAt time.Time     `json:"sampled_at"`
	Self      ProcessInfo   `json:"self"`
	Children  []ProcessInfo `json:"children"`
	// BrowserRSSBytes sums the resident memory of every browser process
	// among the children.
	BrowserRSSBytes uint64 `json:"browser_rss_bytes"`
}

// Sampler reports resource usage of one process and its descendants, which
// for a locally launched browser includes every Chrome process.
type Sampler struct {
	pid int32
}

func NewSampler(pid int) *Sampler {
	return &Sampler{pid: int32(pid)}
}

// SelfSampler samples the current process.
func SelfSampler() *Sampler {
	return NewSampler(os.Getpid())
}

func (s *Sampler) Sample(ctx context.Context) (ProcessReport, error) {
	root, err := process.NewProcessWithContext(ctx, s.pid)
	if err != nil {
		return ProcessReport{}, fmt.Errorf("process %d: %w", s.pid, err)
	}

	report := ProcessReport{
		SampledAt: time.Now(),
		Self:      describe(ctx, root),
		Children:  []ProcessInfo{},
	}
	s.walk(ctx, root, 1, &report)
	return report, nil
}

func (s *Sampler) walk(ctx context.Context, p *process.Process, depth int, report *ProcessReport) {
	if depth > maxDepth {
		return
	}
	// pgrep exits non-zero when there are no children, so any error here
	// just ends the walk.
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return
	}
	for _, c := range children {
		info := describe(ctx, c)
		info.PPID = p.Pid
		report.Children = append(report.Children, info)
		if info.Browser {
			report.BrowserRSSBytes += info.RSSBytes
		}
		s.walk(ctx, c, depth+1, report)
	}
}

// describe collects what it can; a process may exit between calls, so
// individual lookups failing leave zero values.
func describe(ctx context.Context, p *process.Process) ProcessInfo {
	info := ProcessInfo{PID: p.Pid}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		info.CPUPercent = cpu
	}
	if args, err := p.CmdlineSliceWithContext(ctx); err == nil {
		info.Browser = isBrowserProcess(args)
	}
	return info
}

func isBrowserProcess(args []string) bool {
	if len(args) == 0 {
		return false
	}
	exe := strings.ToLower(filepath.Base(args[0]))
	switch {
	case strings.Contains(exe, "chrome"), strings.Contains(exe, "chromium"):
		return true
	case exe == "headless_shell" || exe == "msedge":
		return true
	}
	return false
}
