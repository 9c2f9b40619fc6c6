// otxboot.go
// Host-side simulator and tooling for a handheld radio bootloader.
// Cobra CLI + tcell fullscreen LCD driven by the boot state machine.
//
// Build:
//
//	go build -o otxboot .
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xcrc32"
	"zappem.net/pub/debug/xxd"

	"otxboot/boot"
	"otxboot/hw"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func parseSize(s string) (int64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1024
		ss = strings.TrimSuffix(ss, "k")
	case strings.HasSuffix(ss, "m"):
		mult = 1024 * 1024
		ss = strings.TrimSuffix(ss, "m")
	case strings.HasSuffix(ss, "g"):
		mult = 1024 * 1024 * 1024
		ss = strings.TrimSuffix(ss, "g")
	case strings.HasSuffix(ss, "b"):
		ss = strings.TrimSuffix(ss, "b")
	}
	if strings.HasPrefix(ss, "0x") {
		v, err := strconv.ParseUint(ss[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		return int64(v) * mult, nil
	}
	v, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(v * float64(mult)), nil
}

/* ===================== Board geometry ===================== */

type geomFlags struct {
	board          string
	flashSize      string
	bootloaderSize string
	eepromSize     string
	pageSize       string
}

func (gf *geomFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&gf.board, "board", "x9d", "board preset (x9d, x9d+, x7, x9e)")
	f.StringVar(&gf.flashSize, "flash-size", "", "override program flash size (e.g. 512k, 1m)")
	f.StringVar(&gf.bootloaderSize, "bootloader-size", "", "override bootloader region size")
	f.StringVar(&gf.eepromSize, "eeprom-size", "", "override EEPROM size")
	f.StringVar(&gf.pageSize, "page-size", "", "override flash page size")
}

// resolve applies the overrides to the selected preset.
func (gf *geomFlags) resolve() (boot.Geometry, error) {
	g, err := boot.LookupBoard(gf.board)
	if err != nil {
		return g, err
	}
	overrides := []struct {
		name string
		val  string
		dst  *uint32
	}{
		{"flash-size", gf.flashSize, &g.FlashSize},
		{"bootloader-size", gf.bootloaderSize, &g.BootloaderSize},
		{"eeprom-size", gf.eepromSize, &g.EepromSize},
		{"page-size", gf.pageSize, &g.PageSize},
	}
	for _, o := range overrides {
		if o.val == "" {
			continue
		}
		v, err := parseSize(o.val)
		if err != nil {
			return g, fmt.Errorf("--%s: %w", o.name, err)
		}
		if v > 1<<32-1 {
			return g, fmt.Errorf("--%s: %s is too large", o.name, o.val)
		}
		*o.dst = uint32(v)
	}
	if err := g.Validate(); err != nil {
		return g, fmt.Errorf("board %s: %w", g.Name, err)
	}
	return g, nil
}

func printBoardInfo(w io.Writer, g boot.Geometry) {
	lineWidth := 79
	barHeavy := strings.Repeat("═", lineWidth)
	barLight := strings.Repeat("─", lineWidth)
	fw := g.FirmwareAddress()
	end := g.FlashBase + g.FlashSize - 1

	lines := []string{
		barHeavy,
		" BOARD " + strings.ToUpper(g.Name),
		barLight,
		fmt.Sprintf(" Flash: %-6s  Page: %-4d  Block: %-5d  EEPROM: %s", boot.HumanSize(int64(g.FlashSize)), g.PageSize, g.BlockSize, boot.HumanSize(int64(g.EepromSize))),
		fmt.Sprintf(" Pages/Block: %-3d  Firmware capacity: %s  EEPROM capacity: %s", g.BlockSize/g.PageSize,
			boot.HumanSize(int64(g.Capacity(boot.TargetFlash))), boot.HumanSize(int64(g.Capacity(boot.TargetEeprom)))),
		barLight,
		" LAYOUT (absolute addresses)",
		barLight,
		fmt.Sprintf(" Bootloader: [0x%08X … 0x%08X]  %s", g.FlashBase, fw-1, boot.HumanSize(int64(g.BootloaderSize))),
		fmt.Sprintf(" Firmware  : [0x%08X … 0x%08X]  %s", fw, end, boot.HumanSize(int64(g.Capacity(boot.TargetFlash)))),
		fmt.Sprintf(" EEPROM    : [0x%04X … 0x%04X]", 0, g.EepromSize-1),
		barHeavy,
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

/* ===================== Logging ===================== */

// newLogger builds the slog logger for the CLI. An empty path logs to
// stderr. The returned closer closes the log file, if any.
func newLogger(path string, asJSON, verbose bool) (*slog.Logger, io.Closer, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, nil, err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log: %w", err)
		}
		out, closer = f, f
		if !verbose {
			level = slog.LevelInfo
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if asJSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closer, nil
}

/* ===================== Image listing and checks ===================== */

// listImages prints the images of target in the windows the LCD pages
// through.
func listImages(w io.Writer, fsys fs.FS, dirs boot.Dirs, g boot.Geometry, target boot.Target, log boot.Logger) error {
	cat := boot.NewCatalog(fsys, dirs, log)
	if err := cat.Open(target); err != nil {
		return err
	}
	v := boot.NewValidator(fsys, g, boot.VectorTable{FlashBase: g.FlashBase}, boot.EepromHeader{}, log)
	fmt.Fprintf(w, "  %-4s  %-32s  %-6s  %s\n", "#", "Name", "Size", "Check")
	total := 0
	for base := 0; ; base += boot.VisibleRows {
		win, err := cat.FillWindow(base)
		if err != nil {
			return err
		}
		for i := 0; i < win.Visible(); i++ {
			e := win.Entries[i]
			res := v.Validate(target, cat.Path(e.Name))
			check := res.String()
			if res == boot.Invalid && v.LastErr() != nil {
				check += ": " + reason(v.LastErr())
			}
			fmt.Fprintf(w, "  %-4d  %-32s  %-6s  %s\n", base+i+1, e.Name, boot.HumanSize(e.Size), check)
			total++
		}
		if !win.More() {
			break
		}
	}
	if total == 0 {
		fmt.Fprintln(w, "  <no image files>")
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, boot.ErrImageTooShort):
		return "too short"
	case errors.Is(err, boot.ErrBadSignature):
		return "bad signature"
	case errors.Is(err, fs.ErrNotExist):
		return "missing"
	default:
		return err.Error()
	}
}

type checkReport struct {
	Path    string
	Size    int64
	Result  boot.Result
	Err     error
	Payload int64
	CRC     uint32
	Block   []byte
}

// checkImage validates one image file and checksums the bytes the
// programmer would write.
func checkImage(path string, g boot.Geometry, target boot.Target) (checkReport, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	fsys := os.DirFS(dir)
	rep := checkReport{Path: path}
	v := boot.NewValidator(fsys, g, boot.VectorTable{FlashBase: g.FlashBase}, boot.EepromHeader{}, nil)
	rep.Result = v.Validate(target, name)
	rep.Err = v.LastErr()

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return rep, err
	}
	rep.Size = int64(len(data))
	if target == boot.TargetFlash {
		data = data[min(int(g.BootloaderSize), len(data)):]
	}
	data = data[:min(len(data), int(g.Capacity(target)))]
	rep.Payload = int64(len(data))
	_, rep.CRC = xcrc32.NewCRC32(data)
	rep.Block = data[:min(len(data), 64)]
	return rep, nil
}

func printReport(w io.Writer, rep checkReport, g boot.Geometry, target boot.Target, dump bool) {
	status := "OK"
	if rep.Result != boot.Valid {
		status = "INVALID"
		if rep.Err != nil {
			status += " (" + reason(rep.Err) + ")"
		}
	}
	fmt.Fprintf(w, "%s: %s\n", rep.Path, status)
	fmt.Fprintf(w, "  size %s, %s payload %s, crc32 0x%08x\n", boot.HumanSize(rep.Size), target, boot.HumanSize(rep.Payload), rep.CRC)
	if dump && len(rep.Block) > 0 {
		addr := 0
		if target == boot.TargetFlash {
			addr = int(g.FirmwareAddress())
		}
		xxd.Print(addr, rep.Block)
	}
}

/* ===================== Flash dump ===================== */

// dumpFlash copies the firmware region of a flash backing file to out
// without modifying the backing file. A negative size copies the whole
// region with trailing erased bytes trimmed. Bytes past the end of a
// short backing file read as erased.
func dumpFlash(w io.Writer, flashPath, out string, g boot.Geometry, size int64) error {
	f, err := os.Open(flashPath)
	if err != nil {
		return fmt.Errorf("open flash: %w", err)
	}
	defer f.Close()

	capacity := int64(g.Capacity(boot.TargetFlash))
	trim := size < 0
	switch {
	case size == 0:
		return fmt.Errorf("dump size must be positive")
	case trim || size > capacity:
		size = capacity
	}

	region := make([]byte, g.BootloaderSize)
	if _, err := readErased(f, region, 0); err != nil {
		return fmt.Errorf("read flash: %w", err)
	}
	if v, ok := boot.FindVersion(region); ok {
		fmt.Fprintf(w, "Bootloader: %s %s\n", boot.VersionMarker[:], v)
	} else {
		fmt.Fprintln(w, "Bootloader: no version section")
	}

	buf := make([]byte, size)
	if _, err := readErased(f, buf, int64(g.BootloaderSize)); err != nil {
		return fmt.Errorf("read flash: %w", err)
	}
	if trim {
		n := len(buf)
		for n > 0 && buf[n-1] == 0xFF {
			n--
		}
		buf = buf[:n]
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	if err := os.WriteFile(out, buf, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	_, crc := xcrc32.NewCRC32(buf)
	fmt.Fprintf(w, "Dump complete: %s from 0x%08X to %s (crc32 0x%08x)\n", boot.HumanSize(int64(len(buf))), g.FirmwareAddress(), out, crc)
	return nil
}

// readErased fills p from r at off. The part of p past the end of r is
// set to 0xFF.
func readErased(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	for i := n; i < len(p); i++ {
		p[i] = 0xFF
	}
	return n, nil
}

func main() {
	root := &cobra.Command{
		Use:   "otxboot",
		Short: "Radio bootloader simulator and image tooling",
		Long:  "Run the bootloader state machine against file-backed flash and EEPROM, and inspect firmware and EEPROM images",
	}

	var (
		gf       geomFlags
		sdRoot   string
		logPath  string
		logJSON  bool
		verbose  bool
		firmware string
		eeprom   string
	)
	gf.register(root)
	pf := root.PersistentFlags()
	pf.StringVar(&sdRoot, "sd", ".", "directory standing in for the SD card root")
	pf.StringVar(&firmware, "firmware-dir", boot.DefaultDirs.Firmware, "firmware image directory on the SD card")
	pf.StringVar(&eeprom, "eeprom-dir", boot.DefaultDirs.Eeprom, "EEPROM image directory on the SD card")
	pf.StringVar(&logPath, "log", "", "log file (run logs nowhere without it)")
	pf.BoolVar(&logJSON, "log-json", false, "log as JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	dirs := func() boot.Dirs { return boot.Dirs{Firmware: firmware, Eeprom: eeprom} }

	// Simulator
	var sim simOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bootloader in a terminal LCD",
		RunE: func(_ *cobra.Command, _ []string) error {
			g, err := gf.resolve()
			if err != nil {
				return err
			}
			if logPath == "" {
				sim.log = slog.New(slog.DiscardHandler)
			} else {
				log, closer, err := newLogger(logPath, logJSON, verbose)
				if err != nil {
					return err
				}
				defer closer.Close()
				sim.log = log
			}
			sim.geometry = g
			sim.sdRoot = sdRoot
			sim.dirs = dirs()
			return runSimulator(sim)
		},
	}
	runCmd.Flags().StringVar(&sim.flashPath, "flash", "flash.bin", "program flash backing file")
	runCmd.Flags().StringVar(&sim.eepromPath, "eeprom", "eeprom.bin", "EEPROM backing file")
	runCmd.Flags().StringVar(&sim.keysSerial, "keys-serial", "", "read keys from a serial keypad (port name or \"auto\")")
	runCmd.Flags().IntVar(&sim.baud, "baud", 115200, "serial keypad baud rate")
	runCmd.Flags().BoolVar(&sim.restart, "restart", false, "restart the bootloader after a reset instead of exiting")
	runCmd.Flags().DurationVar(&sim.watchdog, "watchdog", hw.DefaultWatchdogTimeout, "watchdog timeout (0 disables)")
	root.AddCommand(runCmd)

	// Listing
	listCmd := &cobra.Command{
		Use:   "list [flash|eeprom]",
		Short: "List image files the bootloader would offer (read-only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			g, err := gf.resolve()
			if err != nil {
				return err
			}
			target := boot.TargetFlash
			if len(args) == 1 {
				if target, err = boot.ParseTarget(args[0]); err != nil {
					return err
				}
			}
			log, closer, err := newLogger(logPath, logJSON, verbose)
			if err != nil {
				return err
			}
			defer closer.Close()

			m, err := hw.ResolveMedium(sdRoot)
			if err != nil {
				return err
			}
			d := dirs()
			fmt.Printf("Medium: %s\n", m)
			if m.Size > 0 {
				fmt.Printf("Size:   %s\n", boot.HumanSize(m.Size))
			}
			fmt.Printf("Dir:    /%s (%s)\n\n", d.For(target), target)
			return listImages(os.Stdout, os.DirFS(m.Root), d, g, target, log)
		},
	}
	root.AddCommand(listCmd)

	// Validation
	var (
		valTarget string
		valDump   bool
	)
	validateCmd := &cobra.Command{
		Use:   "validate <image>...",
		Short: "Check image files the way the bootloader does",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			g, err := gf.resolve()
			if err != nil {
				return err
			}
			target, err := boot.ParseTarget(valTarget)
			if err != nil {
				return err
			}
			invalid := 0
			for _, p := range args {
				rep, err := checkImage(p, g, target)
				if err != nil {
					return err
				}
				printReport(os.Stdout, rep, g, target, valDump)
				if rep.Result != boot.Valid {
					invalid++
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d images invalid", invalid, len(args))
			}
			return nil
		},
	}
	validateCmd.Flags().StringVar(&valTarget, "target", "flash", "image target (flash or eeprom)")
	validateCmd.Flags().BoolVar(&valDump, "dump", false, "hex dump the start of the payload")
	root.AddCommand(validateCmd)

	// Board geometry
	var boardAll bool
	boardCmd := &cobra.Command{
		Use:   "board",
		Short: "Show the memory layout of the selected board",
		RunE: func(_ *cobra.Command, _ []string) error {
			if boardAll {
				for _, g := range boot.Boards() {
					printBoardInfo(os.Stdout, g)
				}
				return nil
			}
			g, err := gf.resolve()
			if err != nil {
				return err
			}
			printBoardInfo(os.Stdout, g)
			return nil
		},
	}
	boardCmd.Flags().BoolVar(&boardAll, "all", false, "show every preset")
	root.AddCommand(boardCmd)

	// Flash readback
	var (
		dumpFlashPath string
		dumpOut       string
		dumpSize      string
	)
	dumpCmd := &cobra.Command{
		Use:   "dump --flash <file> --out <image>",
		Short: "Copy the firmware region of a flash backing file to an image",
		RunE: func(_ *cobra.Command, _ []string) error {
			g, err := gf.resolve()
			if err != nil {
				return err
			}
			size := int64(-1)
			if dumpSize != "" {
				if size, err = parseSize(dumpSize); err != nil {
					return err
				}
			}
			return dumpFlash(os.Stdout, dumpFlashPath, dumpOut, g, size)
		},
	}
	dumpCmd.Flags().StringVar(&dumpFlashPath, "flash", "flash.bin", "program flash backing file")
	dumpCmd.Flags().StringVar(&dumpOut, "out", "", "output image file")
	dumpCmd.Flags().StringVar(&dumpSize, "size", "", "bytes to copy (default: up to the last programmed byte)")
	_ = dumpCmd.MarkFlagRequired("out")
	root.AddCommand(dumpCmd)

	must(root.Execute())
}
