//go:build linux

package nft

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ProcessMatcher resolves a process-identity condition (an executable
// path) into something the kernel can match on a socket: a cgroup v2 id
// and the hierarchy level to compare it at.
type ProcessMatcher interface {
	Resolve(processPath string) (id uint64, level uint32, ok bool)
}

// cgroupRoot is the cgroup v2 unified hierarchy mount point.
const cgroupRoot = "/sys/fs/cgroup"

// CgroupProcessMatcher maps executable paths onto per-application
// cgroups by naming convention: the supervisor confines each managed
// executable under <root>/rampart.slice/<escaped path>.scope, and a
// cgroup v2 id is its directory inode.
type CgroupProcessMatcher struct {
	root  string
	slice string
}

// NewCgroupProcessMatcher returns the matcher for the default hierarchy
// location.
func NewCgroupProcessMatcher() *CgroupProcessMatcher {
	return &CgroupProcessMatcher{root: cgroupRoot, slice: "rampart.slice"}
}

// Resolve stats the conventional cgroup directory for the executable.
// ok=false means no such cgroup exists right now; the caller installs a
// never-matching condition instead of failing the apply.
func (m *CgroupProcessMatcher) Resolve(processPath string) (uint64, uint32, bool) {
	dir := filepath.Join(m.root, m.slice, escapeScope(processPath)+".scope")
	fi, err := os.Stat(dir)
	if err != nil {
		return 0, 0, false
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}

	rel, err := filepath.Rel(m.root, dir)
	if err != nil {
		return 0, 0, false
	}
	level := uint32(len(strings.Split(rel, string(filepath.Separator))))
	return st.Ino, level, true
}

// escapeScope turns an absolute executable path into a flat scope name,
// mirroring systemd's escaping of path separators.
func escapeScope(path string) string {
	s := strings.TrimPrefix(path, "/")
	s = strings.ReplaceAll(s, "-", "\\x2d")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
