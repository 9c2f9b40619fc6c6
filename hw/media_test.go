package hw

import (
	"path/filepath"
	"testing"
)

func TestLongestMount(t *testing.T) {
	sep := string(filepath.Separator)
	root := func(parts ...string) string { return sep + filepath.Join(parts...) }
	vols := []mountedVol{
		{MountPoint: sep, Device: "rootfs"},
		{MountPoint: root("media"), Device: "tmpfs"},
		{MountPoint: root("media", "sd"), Device: "/dev/sdb1", FSType: "vfat"},
		{MountPoint: root("media", "sdx"), Device: "/dev/sdc1"},
	}
	tests := []struct {
		path string
		want string
	}{
		{root("media", "sd"), "/dev/sdb1"},
		{root("media", "sd", "FIRMWARE"), "/dev/sdb1"},
		{root("media", "sdcard"), "tmpfs"},
		{root("home", "user"), "rootfs"},
	}
	for _, tt := range tests {
		v, ok := longestMount(vols, tt.path)
		if !ok || v.Device != tt.want {
			t.Errorf("longestMount(%s) = %q, %v; want %q", tt.path, v.Device, ok, tt.want)
		}
	}
	if _, ok := longestMount(vols[2:], root("srv")); ok {
		t.Error("matched an unrelated mount")
	}
}

func TestResolveMedium(t *testing.T) {
	dir := t.TempDir()
	m, err := ResolveMedium(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Root != dir || m.String() == "" {
		t.Fatalf("medium = %+v", m)
	}
	if _, err := ResolveMedium(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("resolved a missing directory")
	}
}
