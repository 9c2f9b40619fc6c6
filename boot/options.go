package boot

// Logger is the structured logging interface used by the core.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config holds the controller configuration.
type Config struct {
	// Geometry of the destination memories.
	Geometry Geometry

	// Dirs on the removable medium holding firmware and EEPROM images.
	Dirs Dirs

	// Signatures used by the validator, per target.
	FlashSignature  Signature
	EepromSignature Signature

	// Title drawn inverted on the top row.
	Title string

	// Logger is used for logging operations (optional).
	Logger Logger

	// ProgressCallback is called after every programmed block (optional).
	ProgressCallback ProgressCallback
}

func defaultConfig() Config {
	return Config{
		Geometry:        BoardX9D,
		Dirs:            DefaultDirs,
		FlashSignature:  VectorTable{FlashBase: FlashBase},
		EepromSignature: EepromHeader{},
		Title:           DefaultTitle,
		Logger:          nopLogger{},
	}
}

// Option is a functional option for configuring the Controller.
type Option func(*Config)

// WithGeometry sets the board geometry.
func WithGeometry(g Geometry) Option {
	return func(c *Config) {
		c.Geometry = g
		if v, ok := c.FlashSignature.(VectorTable); ok {
			v.FlashBase = g.FlashBase
			c.FlashSignature = v
		}
	}
}

// WithDirs sets the image directories.
func WithDirs(d Dirs) Option {
	return func(c *Config) {
		if d.Firmware != "" {
			c.Dirs.Firmware = d.Firmware
		}
		if d.Eeprom != "" {
			c.Dirs.Eeprom = d.Eeprom
		}
	}
}

// WithSignatures replaces the image signature checks. A nil argument keeps
// the current check for that target.
func WithSignatures(flash, eeprom Signature) Option {
	return func(c *Config) {
		if flash != nil {
			c.FlashSignature = flash
		}
		if eeprom != nil {
			c.EepromSignature = eeprom
		}
	}
}

// WithTitle sets the title bar text.
func WithTitle(title string) Option {
	return func(c *Config) {
		c.Title = title
	}
}

// WithLogger sets a logger for the controller and its components.
//
// Example:
//
//	ctrl, err := boot.New(drivers, boot.WithLogger(slog.Default()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithProgressCallback sets a callback invoked after every programmed block.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}
