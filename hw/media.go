package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Medium describes the removable storage the images are read from.
type Medium struct {
	Root   string
	Mount  string
	Device string
	FSType string
	Size   int64
}

func (m Medium) String() string {
	if m.Device == "" {
		return m.Root
	}
	return fmt.Sprintf("%s on %s (%s)", m.Device, m.Mount, m.FSType)
}

type mountedVol struct {
	MountPoint string
	Device     string
	FSType     string
	SizeBytes  int64
}

// ResolveMedium finds the mounted volume holding root. Device fields are
// left empty when the platform cannot tell.
func ResolveMedium(root string) (Medium, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Medium{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Medium{}, err
	}
	if !fi.IsDir() {
		return Medium{}, fmt.Errorf("%s is not a directory", root)
	}
	m := Medium{Root: abs}
	if v, ok := longestMount(listMounted(), abs); ok {
		m.Mount, m.Device, m.FSType, m.Size = v.MountPoint, v.Device, v.FSType, v.SizeBytes
	}
	return m, nil
}

// longestMount returns the volume with the longest mount point that
// contains p.
func longestMount(vols []mountedVol, p string) (mountedVol, bool) {
	var best mountedVol
	found := false
	for _, v := range vols {
		mp := filepath.Clean(v.MountPoint)
		if !within(p, mp) {
			continue
		}
		if !found || len(mp) > len(best.MountPoint) {
			best, found = v, true
			best.MountPoint = mp
		}
	}
	return best, found
}

func within(p, dir string) bool {
	if p == dir {
		return true
	}
	// Roots such as "/" and `C:\` already end in a separator.
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return strings.HasPrefix(p, dir)
	}
	return strings.HasPrefix(p, dir+string(filepath.Separator))
}
