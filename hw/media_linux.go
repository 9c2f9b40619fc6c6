//go:build linux

package hw

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

func listMounted() []mountedVol {
	b, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return nil
	}
	return parseMounts(string(b))
}

// parseMounts reads the /proc/self/mounts format:
// <src> <target> <fstype> <opts> ...
func parseMounts(s string) []mountedVol {
	var out []mountedVol
	for _, ln := range strings.Split(s, "\n") {
		fields := strings.Fields(ln)
		if len(fields) < 3 {
			continue
		}
		v := mountedVol{
			Device:     fields[0],
			MountPoint: unescapeMount(fields[1]),
			FSType:     fields[2],
		}
		var st unix.Statfs_t
		if unix.Statfs(v.MountPoint, &st) == nil {
			v.SizeBytes = int64(st.Blocks) * int64(st.Bsize)
		}
		out = append(out, v)
	}
	return out
}

// unescapeMount decodes the octal escapes used for spaces and tabs.
func unescapeMount(s string) string {
	return strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`).Replace(s)
}
