package credmesh

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/credmesh/credmesh/funder"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename  = "credmesh.conf"
	defaultDataDirname     = "data"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "credmeshd.log"
	defaultIdentityFname   = "node.ident"
	defaultDebugLevel      = "info"
	defaultListenAddr      = "localhost:9735"
	defaultSnapshotEvery   = time.Minute * 10
	defaultForwardingFee   = 0
)

var (
	credmeshHomeDir       = appDataDir("credmesh")
	defaultConfigFile     = filepath.Join(credmeshHomeDir, defaultConfigFilename)
	defaultDataDir        = filepath.Join(credmeshHomeDir, defaultDataDirname)
	defaultLogDir         = filepath.Join(credmeshHomeDir, defaultLogDirname)
	defaultIdentityFile   = filepath.Join(credmeshHomeDir, defaultIdentityFname)
)

// appDataDir returns the default data directory for the daemon.
func appDataDir(appName string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(homeDir, "."+appName)
}

// Config defines the configuration options for credmeshd.
//
// See LoadConfig for further details regarding the configuration loading+
// parsing process.
type Config struct {
	ShowVersion  bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile   string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir      string `short:"b" long:"datadir" description:"The directory to store credmesh's data within"`
	LogDir       string `long:"logdir" description:"Directory to log output."`
	IdentityFile string `long:"identityfile" description:"Path to the node identity file"`
	DebugLevel   string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Listen string `long:"listen" description:"Address to listen on for peer connections"`

	RelayFiles []string `long:"relayfile" description:"Relay address file to load at startup; may be specified multiple times"`

	SnapshotInterval time.Duration `long:"snapshotinterval" description:"How often to write a full state snapshot"`
	ForwardingFee    uint64        `long:"forwardingfee" description:"Flat fee in credits taken for every forwarded request"`

	MaxPendingOperations   int `long:"maxpendingops" description:"Hard bound of the per-friend outbound operation queue"`
	MaxPendingUserRequests int `long:"maxpendinguserreqs" description:"Hard bound of the per-friend user request queue"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		ConfigFile:             defaultConfigFile,
		DataDir:                defaultDataDir,
		LogDir:                 defaultLogDir,
		IdentityFile:           defaultIdentityFile,
		DebugLevel:             defaultDebugLevel,
		Listen:                 defaultListenAddr,
		SnapshotInterval:       defaultSnapshotEvery,
		ForwardingFee:          defaultForwardingFee,
		MaxPendingOperations:   funder.DefaultMaxPendingOperations,
		MaxPendingUserRequests: funder.DefaultMaxPendingUserRequests,
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified
//     options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	// Pre-parse the command line options to pick up an alternative
	// config file.
	preCfg := *cfg
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Next, load any additional configuration options from the file.
	if fileExists(preCfg.ConfigFile) {
		err := flags.IniParse(preCfg.ConfigFile, cfg)
		if err != nil {
			return nil, err
		}
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(cfg); err != nil {
		return nil, err
	}

	// Clean and expand all file path related settings.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.IdentityFile = cleanAndExpandPath(cfg.IdentityFile)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, fmt.Errorf("%v\nUse --debuglevel=show to list "+
			"available subsystems", err)
	}

	return cfg, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(credmeshHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
