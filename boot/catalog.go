package boot

import (
	"errors"
	"io/fs"
	"path"
	"strings"
)

// Window sizes of the file list.
const (
	// WindowCapacity is the number of entries fetched per scan. The entry
	// past the last visible row tells the list that it can scroll further.
	WindowCapacity = 7

	// VisibleRows is the number of file names drawn at once.
	VisibleRows = 6
)

// Dirs names the image directory of each target on the removable medium.
type Dirs struct {
	Firmware string
	Eeprom   string
}

// DefaultDirs are the directories the radio firmware itself creates.
var DefaultDirs = Dirs{Firmware: "FIRMWARE", Eeprom: "EEPROMS"}

// For returns the directory holding images for t.
func (d Dirs) For(t Target) string {
	if t == TargetEeprom {
		return d.Eeprom
	}
	return d.Firmware
}

// FileEntry is one listed image.
type FileEntry struct {
	Name string
	Size int64
}

// Window is a bounded view over the matching files of a directory.
// Entries[:Count] are valid and hold the matches starting at index Base.
type Window struct {
	Entries [WindowCapacity]FileEntry
	Base    int
	Count   int
}

// Entry returns the i-th entry of the window.
func (w *Window) Entry(i int) (FileEntry, bool) {
	if i < 0 || i >= w.Count {
		return FileEntry{}, false
	}
	return w.Entries[i], true
}

// Visible returns the number of rows the list draws.
func (w *Window) Visible() int {
	return min(w.Count, VisibleRows)
}

// More reports whether entries exist past the visible rows.
func (w *Window) More() bool {
	return w.Count > VisibleRows
}

// MatchImageName reports whether name ends in ".bin", ignoring case.
func MatchImageName(name string) bool {
	n := len(name) - 4
	if n < 0 || name[n] != '.' {
		return false
	}
	return strings.EqualFold(name[n+1:], "bin")
}

// Catalog enumerates image files of the selected target directory.
// Every window shift rescans the directory; nothing is cached between scans.
type Catalog struct {
	fsys fs.FS
	dirs Dirs
	dir  string
	log  Logger
}

// NewCatalog returns a catalog over the removable medium fsys.
func NewCatalog(fsys fs.FS, dirs Dirs, log Logger) *Catalog {
	if log == nil {
		log = nopLogger{}
	}
	return &Catalog{fsys: fsys, dirs: dirs, log: log}
}

// Open selects the image directory for t.
func (c *Catalog) Open(t Target) error {
	c.dir = ""
	dir := c.dirs.For(t)
	if c.fsys == nil {
		return &DirError{Kind: DirMissing, Dir: dir, Err: fs.ErrNotExist}
	}
	fi, err := fs.Stat(c.fsys, dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &DirError{Kind: DirMissing, Dir: dir, Err: err}
	case err != nil:
		return &DirError{Kind: DirUnreadable, Dir: dir, Err: err}
	case !fi.IsDir():
		return &DirError{Kind: DirMissing, Dir: dir, Err: fs.ErrNotExist}
	}
	c.dir = dir
	c.log.Debug("catalog opened", "component", "catalog", "dir", dir)
	return nil
}

// Dir returns the opened directory, or "" before a successful Open.
func (c *Catalog) Dir() string {
	return c.dir
}

// Path returns the storage path of a listed file.
func (c *Catalog) Path(name string) string {
	return path.Join(c.dir, name)
}

// FillWindow rescans the directory, skips start matching entries and
// returns up to WindowCapacity of the following ones. A start past the
// last match yields an empty window.
func (c *Catalog) FillWindow(start int) (Window, error) {
	w := Window{Base: start}
	if c.dir == "" {
		return w, &DirError{Kind: DirMissing, Err: fs.ErrNotExist}
	}
	entries, err := fs.ReadDir(c.fsys, c.dir)
	if err != nil {
		return w, &DirError{Kind: DirUnreadable, Dir: c.dir, Err: err}
	}
	skipped := 0
	for _, e := range entries {
		if e.IsDir() || !MatchImageName(e.Name()) {
			continue
		}
		if skipped < start {
			skipped++
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		w.Entries[w.Count] = FileEntry{Name: e.Name(), Size: size}
		w.Count++
		if w.Count == WindowCapacity {
			break
		}
	}
	c.log.Debug("catalog window", "component", "catalog", "dir", c.dir, "base", start, "count", w.Count)
	return w, nil
}
