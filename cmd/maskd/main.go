package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog/v2"
	flags "github.com/jessevdk/go-flags"

	"github.com/scaguard/maskedaes"
	"github.com/scaguard/maskedaes/build"
	"github.com/scaguard/maskedaes/console"
	"github.com/scaguard/maskedaes/entropy"
	"github.com/scaguard/maskedaes/logutil"
)

// config holds the command line options of the daemon. It carries no key
// material, so dumping it at debug level is safe.
type config struct {
	ShowVersion bool `long:"version" short:"V" description:"Display version information and exit"`

	Device string `long:"device" description:"Serial device to serve the byte-command console on; empty serves stdin/stdout"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems" default:"info"`

	Entropy string `long:"entropy" choice:"hash" choice:"fast" description:"Random word backend for masks and chaff" default:"hash"`

	RemaskPerCall bool `long:"remaskpercall" description:"Rebuild the masked S-box tables on every decrypt call"`

	SeedFile string `long:"seedfile" description:"File whose contents are mixed into the boot seed alongside system entropy"`
}

var log btclog.Logger

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[maskd] %v\n", err)
	os.Exit(1)
}

// logManager owns the logging backend shared by every subsystem and
// implements build.LeveledSubLogger so debug levels can be tuned per
// subsystem from the command line.
type logManager struct {
	loggers build.SubLoggers
}

func newLogManager() *logManager {
	handler := btclog.NewDefaultHandler(os.Stdout)

	m := &logManager{
		loggers: make(build.SubLoggers),
	}

	register := func(tag string, use func(btclog.Logger)) {
		logger := btclog.NewSLogger(handler.SubSystem(tag))
		m.loggers[tag] = logger
		use(logger)
	}

	register(maskedaes.Subsystem, maskedaes.UseLogger)
	register(console.Subsystem, console.UseLogger)
	register("MSKD", func(l btclog.Logger) {
		log = l
	})

	return m
}

// SubLoggers returns the map of all registered subsystem loggers.
func (m *logManager) SubLoggers() build.SubLoggers {
	return m.loggers
}

// SupportedSubsystems returns a sorted slice of the registered subsystem
// names.
func (m *logManager) SupportedSubsystems() []string {
	return build.SupportedSubsystems(m)
}

// SetLogLevel assigns an individual subsystem logger a new log level.
func (m *logManager) SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := m.loggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels assigns all subsystem loggers the same new log level.
func (m *logManager) SetLogLevels(logLevel string) {
	for subsystemID := range m.loggers {
		m.SetLogLevel(subsystemID, logLevel)
	}
}

// bootSeed gathers the boot entropy fed into the engine: 32 bytes of
// system entropy, plus the seed file when one is configured. More material
// never hurts, the source hashes it all down anyway.
func bootSeed(seedFile string) ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("unable to gather system entropy: %w",
			err)
	}

	if seedFile != "" {
		extra, err := os.ReadFile(seedFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read seed file: %w",
				err)
		}
		seed = append(seed, extra...)
	}

	return seed, nil
}

// stdioConn glues stdin and stdout into the single stream the console
// expects.
type stdioConn struct {
	io.Reader
	io.Writer
}

func openConn(device string) (io.ReadWriter, string, error) {
	if device == "" {
		return stdioConn{os.Stdin, os.Stdout}, "stdio", nil
	}

	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, "", err
	}

	return f, device, nil
}

func main() {
	var cfg config
	if _, err := flags.Parse(&cfg); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Println("maskd version", build.Version())
		os.Exit(0)
	}

	logMgr := newLogManager()
	if err := build.ParseAndSetDebugLevels(
		cfg.DebugLevel, logMgr,
	); err != nil {
		fatal(err)
	}

	log.Infof("Version: %v", build.Version())
	log.Debugf("Active configuration: %v", logutil.SpewLogClosure(cfg))

	entropyCfg := entropy.DefaultConfig()
	if cfg.Entropy == "fast" {
		entropyCfg.Backend = entropy.BackendFast
	}

	eng := maskedaes.New(&maskedaes.Config{
		Entropy:       entropyCfg,
		RemaskPerCall: cfg.RemaskPerCall,
	})

	seed, err := bootSeed(cfg.SeedFile)
	if err != nil {
		fatal(err)
	}
	if err := eng.Reseed(seed); err != nil {
		fatal(err)
	}

	conn, name, err := openConn(cfg.Device)
	if err != nil {
		fatal(err)
	}

	log.Infof("Serving byte-command console on %v", name)

	if err := console.New(eng, conn).Run(); err != nil {
		fatal(err)
	}

	log.Infof("Console stream closed, shutting down")
}
