//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rlimitEnv carries the encoded limits from the sandbox to its exec shim
const rlimitEnv = "MCPHOST_SANDBOX_RLIMITS"

type rlimit struct {
	name     string
	resource int
	value    uint64
}

// rlimitsFor lists the ceilings for limits. Address space goes last since
// nothing may be mapped once it is lowered.
func rlimitsFor(limits Limits) []rlimit {
	return []rlimit{
		{"cpu time", unix.RLIMIT_CPU, uint64(limits.MaxCPUSeconds)},
		{"open files", unix.RLIMIT_NOFILE, uint64(limits.MaxOpenFiles)},
		{"processes", unix.RLIMIT_NPROC, uint64(limits.MaxProcesses)},
		{"address space", unix.RLIMIT_AS, uint64(limits.MaxMemoryMB) * 1024 * 1024},
	}
}

// applyLimits sets the resource ceilings of a running process
func applyLimits(pid int, limits Limits) error {
	for _, rl := range rlimitsFor(limits) {
		lim := &unix.Rlimit{Cur: rl.value, Max: rl.value}
		if err := unix.Prlimit(pid, rl.resource, lim, nil); err != nil {
			return fmt.Errorf("setting %s limit: %w", rl.name, err)
		}
	}
	return nil
}

func encodeRlimits(limits Limits) string {
	parts := make([]string, 0, 4)
	for _, rl := range rlimitsFor(limits) {
		parts = append(parts, strconv.Itoa(rl.resource)+"="+strconv.FormatUint(rl.value, 10))
	}
	return strings.Join(parts, ",")
}

func decodeRlimits(encoded string) []rlimit {
	names := map[int]string{}
	for _, rl := range rlimitsFor(Limits{}) {
		names[rl.resource] = rl.name
	}

	var out []rlimit
	for _, part := range strings.Split(encoded, ",") {
		res, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		resource, err := strconv.Atoi(res)
		if err != nil {
			continue
		}
		value, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			continue
		}
		name, ok := names[resource]
		if !ok {
			continue
		}
		out = append(out, rlimit{name: name, resource: resource, value: value})
	}
	return out
}

// limitAtExec routes cmd through this binary, which lowers its own limits
// and then execs the real command, so the limits hold from the first
// instruction of the target. It reports false when the shim is unavailable
// and the caller has to fall back to applyLimits.
func limitAtExec(cmd *exec.Cmd, limits Limits) (bool, error) {
	if cmd.Err != nil {
		return false, nil
	}
	self, err := os.Executable()
	if err != nil {
		return false, nil
	}

	target := cmd.Path
	if !filepath.IsAbs(target) {
		if _, err := os.Stat(filepath.Join(cmd.Dir, target)); err != nil {
			return false, err
		}
	}

	cmd.Args = append([]string{cmd.Args[0], target}, cmd.Args...)
	cmd.Path = self
	cmd.Env = append(cmd.Env, rlimitEnv+"="+encodeRlimits(limits))
	return true, nil
}

func init() {
	encoded, ok := os.LookupEnv(rlimitEnv)
	if !ok || len(os.Args) < 3 {
		return
	}
	execLimited(encoded, os.Args[1], os.Args[2:])
}

// execLimited never returns. Everything execve needs is built before the
// limits are lowered so no allocation happens under them.
func execLimited(encoded, path string, argv []string) {
	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, rlimitEnv+"=") {
			env = append(env, kv)
		}
	}

	pathp, err := syscall.BytePtrFromString(path)
	if err != nil {
		shimFail(path, err)
	}
	argvp, err := syscall.SlicePtrFromStrings(argv)
	if err != nil {
		shimFail(path, err)
	}
	envp, err := syscall.SlicePtrFromStrings(env)
	if err != nil {
		shimFail(path, err)
	}

	rlimits := decodeRlimits(encoded)
	warnings := make([][]byte, len(rlimits))
	for i, rl := range rlimits {
		warnings[i] = []byte("sandbox: " + rl.name + " limit not applied\n")
	}

	for i, rl := range rlimits {
		lim := unix.Rlimit{Cur: rl.value, Max: rl.value}
		if err := unix.Prlimit(0, rl.resource, &lim, nil); err != nil {
			unix.Write(2, warnings[i])
		}
	}

	_, _, errno := unix.RawSyscall(unix.SYS_EXECVE,
		uintptr(unsafe.Pointer(pathp)),
		uintptr(unsafe.Pointer(&argvp[0])),
		uintptr(unsafe.Pointer(&envp[0])))
	shimFail(path, errno)
}

func shimFail(path string, err error) {
	fmt.Fprintf(os.Stderr, "sandbox: exec %s: %v\n", path, err)
	os.Exit(127)
}
