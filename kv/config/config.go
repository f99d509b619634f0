package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the tinydoc server configuration.
type Config struct {
	*flag.FlagSet `json:"-"`

	ConfigCheck bool `json:"-"`

	// Addr is the address the HTTP API listens on.
	Addr string `toml:"addr" json:"addr"`
	// ReadOnly rejects every mutating request with 403.
	ReadOnly bool `toml:"readonly" json:"readonly"`
	// Username and Password enable HTTP basic auth when both are set.
	Username string `toml:"username" json:"username"`
	Password string `toml:"password" json:"-"`
	// DefaultIndexes are the indexed fields declared for databases created without an explicit list.
	DefaultIndexes []string `toml:"default-indexes" json:"default-indexes"`

	// Log related config.
	Log log.Config `toml:"log" json:"log"`

	Engine Engine `toml:"engine" json:"engine"`

	Replicator Replicator `toml:"replicator" json:"replicator"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string `json:"-"`

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// Engine is the storage engine configuration.
type Engine struct {
	// Storage selects the backend, "badger" or "memory".
	Storage string `toml:"storage" json:"storage"`
	// Directory to store the data in. Should exist and be writable.
	DBPath string `toml:"db-path" json:"db-path"`
	// If value size >= this threshold, only store value offsets in tree.
	ValueThreshold   int      `toml:"value-threshold" json:"value-threshold"`
	MaxTableSize     ByteSize `toml:"max-table-size" json:"max-table-size"`
	ValueLogFileSize ByteSize `toml:"value-log-file-size" json:"value-log-file-size"`
	NumMemTables     int      `toml:"num-mem-tables" json:"num-mem-tables"`
	NumCompactors    int      `toml:"num-compactors" json:"num-compactors"`
	SyncWrites       bool     `toml:"sync-writes" json:"sync-writes"`
	// MaxRetries bounds how many times a conflicting transaction is re-run.
	MaxRetries int `toml:"max-retries" json:"max-retries"`
	// DeleteRangeBatch is the number of keys removed per transaction when dropping a database.
	DeleteRangeBatch int `toml:"delete-range-batch" json:"delete-range-batch"`
}

// Replicator is the replication engine configuration.
type Replicator struct {
	Enable bool `toml:"enable" json:"enable"`
	// PollInterval is how often the control database is scanned for new jobs.
	PollInterval Duration `toml:"poll-interval" json:"poll-interval"`
	// BatchSize is the number of remote changes requested per page.
	BatchSize int `toml:"batch-size" json:"batch-size"`
	// SettleDelay is the pause before a finished one-shot job is marked completed.
	SettleDelay Duration `toml:"settle-delay" json:"settle-delay"`
	// ContinuousInterval is the minimum gap between two polls of a continuous feed.
	ContinuousInterval Duration `toml:"continuous-interval" json:"continuous-interval"`
	// RequestTimeout bounds every request made to a remote source.
	RequestTimeout Duration `toml:"request-timeout" json:"request-timeout"`
}

const (
	StorageBadger = "badger"
	StorageMemory = "memory"
)

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024

	defaultAddr              = "127.0.0.1:5984"
	defaultDBPath            = "/tmp/tinydoc"
	defaultValueThreshold    = 256
	defaultMaxTableSize      = 64 * MB
	defaultValueLogFileSize  = 256 * MB
	defaultNumMemTables      = 3
	defaultNumCompactors     = 1
	defaultMaxRetries        = 16
	defaultDeleteRangeBatch  = 1024
	defaultPollInterval      = 30 * time.Second
	defaultBatchSize         = 5000
	defaultSettleDelay       = time.Second
	defaultContinuousPoll    = time.Second
	defaultRequestTimeout    = 5 * time.Minute
	defaultReplicatorEnabled = true
)

// NewConfig creates a new config.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("tinydoc", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.StringVar(&cfg.configFile, "config", "", "Config file")
	fs.BoolVar(&cfg.ConfigCheck, "config-check", false, "check config file validity and exit")

	fs.StringVar(&cfg.Addr, "addr", "", "address the HTTP API listens on (default '127.0.0.1:5984')")
	fs.BoolVar(&cfg.ReadOnly, "readonly", false, "reject every write request")

	fs.StringVar(&cfg.Engine.Storage, "storage", "", "storage backend: badger, memory (default 'badger')")
	fs.StringVar(&cfg.Engine.DBPath, "db-path", "", "path to the data directory (default '/tmp/tinydoc')")

	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")

	return cfg
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustByteSize(v *ByteSize, defValue uint64) {
	if *v == 0 {
		*v = ByteSize(defValue)
	}
}

func adjustDuration(v *Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
	var meta *toml.MetaData
	if c.configFile != "" {
		meta, err = c.configFromFile(c.configFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	return c.Adjust(meta)
}

// configFromFile loads config from file.
func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

type configMetaData struct {
	meta *toml.MetaData
	path []string
}

func newConfigMetadata(meta *toml.MetaData) *configMetaData {
	return &configMetaData{meta: meta}
}

func (m *configMetaData) IsDefined(key string) bool {
	if m.meta == nil {
		return false
	}
	keys := append([]string(nil), m.path...)
	keys = append(keys, key)
	return m.meta.IsDefined(keys...)
}

func (m *configMetaData) Child(path ...string) *configMetaData {
	newPath := append([]string(nil), m.path...)
	newPath = append(newPath, path...)
	return &configMetaData{
		meta: m.meta,
		path: newPath,
	}
}

func (m *configMetaData) CheckUndecoded() error {
	if m.meta == nil {
		return nil
	}
	undecoded := m.meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	errInfo := "Config contains undefined item: "
	for _, key := range undecoded {
		errInfo += key.String() + ", "
	}
	return errors.New(errInfo[:len(errInfo)-2])
}

// Adjust fills every unset option with its default, applies environment overrides and validates the result.
func (c *Config) Adjust(meta *toml.MetaData) error {
	configMetaData := newConfigMetadata(meta)
	if err := configMetaData.CheckUndecoded(); err != nil {
		c.WarningMsgs = append(c.WarningMsgs, err.Error())
	}

	c.adjustFromEnv()
	adjustString(&c.Addr, defaultAddr)
	adjustString(&c.Log.Level, "info")

	c.Engine.adjust(configMetaData.Child("engine"))
	c.Replicator.adjust(configMetaData.Child("replicator"))

	return c.Validate()
}

// adjustFromEnv reads the PORT, READONLY, USERNAME, PASSWORD and LOG_LEVEL variables. Values given in the
// config file or on the command line take precedence.
func (c *Config) adjustFromEnv() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == "" {
		c.Addr = ":" + port
	}
	if ro := os.Getenv("READONLY"); ro != "" && !c.ReadOnly {
		if v, err := strconv.ParseBool(ro); err == nil {
			c.ReadOnly = v
		} else {
			c.WarningMsgs = append(c.WarningMsgs, fmt.Sprintf("ignore invalid READONLY value %q", ro))
		}
	}
	// USERNAME alone is commonly set by login shells, so only take the pair.
	if user, pass := os.Getenv("USERNAME"), os.Getenv("PASSWORD"); user != "" && pass != "" && c.Username == "" {
		c.Username, c.Password = user, pass
	}
	adjustString(&c.Log.Level, os.Getenv("LOG_LEVEL"))
}

func (e *Engine) adjust(meta *configMetaData) {
	adjustString(&e.Storage, StorageBadger)
	adjustString(&e.DBPath, defaultDBPath)
	adjustInt(&e.ValueThreshold, defaultValueThreshold)
	adjustByteSize(&e.MaxTableSize, defaultMaxTableSize)
	adjustByteSize(&e.ValueLogFileSize, defaultValueLogFileSize)
	adjustInt(&e.NumMemTables, defaultNumMemTables)
	adjustInt(&e.NumCompactors, defaultNumCompactors)
	adjustInt(&e.MaxRetries, defaultMaxRetries)
	adjustInt(&e.DeleteRangeBatch, defaultDeleteRangeBatch)
	if !meta.IsDefined("sync-writes") {
		e.SyncWrites = true
	}
}

func (r *Replicator) adjust(meta *configMetaData) {
	if !meta.IsDefined("enable") {
		r.Enable = defaultReplicatorEnabled
	}
	adjustDuration(&r.PollInterval, defaultPollInterval)
	adjustInt(&r.BatchSize, defaultBatchSize)
	adjustDuration(&r.SettleDelay, defaultSettleDelay)
	adjustDuration(&r.ContinuousInterval, defaultContinuousPoll)
	adjustDuration(&r.RequestTimeout, defaultRequestTimeout)
}

// Validate is used to validate if some configurations are right.
func (c *Config) Validate() error {
	switch c.Engine.Storage {
	case StorageBadger:
		if c.Engine.DBPath == "" {
			return errors.New("db-path must be set for the badger storage")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Engine.Storage)
	}
	if c.Engine.MaxRetries < 0 {
		return errors.New("max-retries must not be negative")
	}
	if c.Replicator.BatchSize <= 0 {
		return errors.New("replicator batch-size must be greater than 0")
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.New("username and password must be set together")
	}
	for _, name := range c.DefaultIndexes {
		if strings.TrimSpace(name) == "" {
			return errors.New("default-indexes contains an empty name")
		}
	}
	return nil
}

// AuthEnabled reports whether basic auth is configured.
func (c *Config) AuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}

// NewTestConfig returns an adjusted config backed by the in-memory storage with short replication timings.
func NewTestConfig() *Config {
	cfg := &Config{}
	cfg.Engine.Storage = StorageMemory
	cfg.Replicator.PollInterval = NewDuration(50 * time.Millisecond)
	cfg.Replicator.SettleDelay = NewDuration(10 * time.Millisecond)
	cfg.Replicator.ContinuousInterval = NewDuration(10 * time.Millisecond)
	cfg.Replicator.BatchSize = 100
	if err := cfg.Adjust(nil); err != nil {
		panic(err)
	}
	return cfg
}
