// Package boot implements the control core of a handheld radio bootloader.
//
// The core is a tick-driven state machine. Every 10ms the main loop takes
// at most one input event from the EventSource and hands it to the
// Controller, which browses image files on removable storage (Catalog),
// checks the leading block of a selected image (Validator) and streams it
// block by block into program flash or EEPROM (Programmer).
//
// Hardware is reached only through the narrow collaborator interfaces in
// drivers.go, so the whole core runs unchanged against simulated drivers
// in tests and in the host-side simulator.
//
// Basic wiring:
//
//	ctrl, err := boot.New(boot.Drivers{
//	    Display: screen,
//	    Storage: os.DirFS("/media/sd"),
//	    Flash:   flash,
//	    Eeprom:  eeprom,
//	    USB:     usb,
//	    Power:   power,
//	}, boot.WithGeometry(boot.BoardX9D))
//	loop := boot.NewLoop(ctrl, keyboard, watchdog)
//	err := loop.Run(ctx)
package boot
