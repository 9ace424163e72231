package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	jerrors "github.com/juju/errors"
	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
)

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
[trx]
transaction_control = MVCC
lock_wait_timeout   = 50s
deadlock_detect     = true
purge_interval      = 1s
purge_workers       = 4

[session]
session_timeout = 60s
session_number  = 1000

[logs]
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// trx
	TransactionControl      string `default:"MVCC" yaml:"transaction_control"`
	LockWaitTimeout         string `default:"50s" yaml:"lock_wait_timeout"`
	LockWaitTimeoutDuration time.Duration
	DeadlockDetect          bool   `default:"true" yaml:"deadlock_detect"`
	LockShards              int    `default:"16" yaml:"lock_shards"`
	PurgeInterval           string `default:"1s" yaml:"purge_interval"`
	PurgeIntervalDuration   time.Duration
	PurgeWorkers            int `default:"4" yaml:"purge_workers"`

	// session
	SessionTimeout         string `default:"60s" yaml:"session_timeout"`
	SessionTimeoutDuration time.Duration
	SessionNumber          int `default:"1000" yaml:"session_number"`

	// logs
	LogError string `default:"" yaml:"log_error"`
	LogInfos string `default:"" yaml:"log_infos"`
	LogLevel string `default:"info" yaml:"log_level"`
}

// fileCfg yaml和toml配置文件的结构，分节与ini一致
type fileCfg struct {
	Trx struct {
		TransactionControl string `yaml:"transaction_control"`
		LockWaitTimeout    string `yaml:"lock_wait_timeout"`
		DeadlockDetect     *bool  `yaml:"deadlock_detect"`
		LockShards         int    `yaml:"lock_shards"`
		PurgeInterval      string `yaml:"purge_interval"`
		PurgeWorkers       int    `yaml:"purge_workers"`
	} `yaml:"trx"`
	Session struct {
		SessionTimeout string `yaml:"session_timeout"`
		SessionNumber  int    `yaml:"session_number"`
	} `yaml:"session"`
	Logs struct {
		LogError string `yaml:"log_error"`
		LogInfos string `yaml:"log_infos"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"logs"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:                     ini.Empty(),
		TransactionControl:      "MVCC",
		LockWaitTimeout:         "50s",
		LockWaitTimeoutDuration: 50 * time.Second,
		DeadlockDetect:          true,
		LockShards:              16,
		PurgeInterval:           "1s",
		PurgeIntervalDuration:   time.Second,
		PurgeWorkers:            4,
		SessionTimeout:          "60s",
		SessionTimeoutDuration:  60 * time.Second,
		SessionNumber:           1000,
		LogLevel:                "info",
	}
}

// Load 按扩展名加载配置文件: .yaml/.yml、.toml，其他按ini解析。文件不存在时使用默认配置。
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	configFile := "conf/my.ini"
	if args != nil && args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return cfg, cfg.normalize()
	}

	var err error
	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		err = cfg.loadFile(configFile, yaml.Unmarshal)
	case ".toml":
		err = cfg.loadToml(configFile)
	default:
		err = cfg.loadIni(configFile)
	}
	if err != nil {
		return nil, jerrors.Annotatef(err, "load config %s", configFile)
	}
	if err = cfg.normalize(); err != nil {
		return nil, jerrors.Annotatef(err, "config %s", configFile)
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return cfg, nil
}

func (cfg *Cfg) loadIni(configFile string) error {
	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return jerrors.Trace(err)
	}
	cfg.Raw = parsedFile
	cfg.parseTrxCfg(cfg.Raw.Section("trx"))
	cfg.parseSessionCfg(cfg.Raw.Section("session"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return nil
}

func (cfg *Cfg) loadFile(configFile string, unmarshal func([]byte, interface{}) error) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return jerrors.Trace(err)
	}
	var fc fileCfg
	if err = unmarshal(data, &fc); err != nil {
		return jerrors.Trace(err)
	}
	cfg.apply(&fc)
	return nil
}

// loadToml 通过toml树按 section.key 取值
func (cfg *Cfg) loadToml(configFile string) error {
	tree, err := toml.LoadFile(configFile)
	if err != nil {
		return jerrors.Trace(err)
	}
	var fc fileCfg
	fc.Trx.TransactionControl = tomlString(tree, "trx.transaction_control")
	fc.Trx.LockWaitTimeout = tomlString(tree, "trx.lock_wait_timeout")
	if v, ok := tree.Get("trx.deadlock_detect").(bool); ok {
		fc.Trx.DeadlockDetect = &v
	}
	fc.Trx.LockShards = tomlInt(tree, "trx.lock_shards")
	fc.Trx.PurgeInterval = tomlString(tree, "trx.purge_interval")
	fc.Trx.PurgeWorkers = tomlInt(tree, "trx.purge_workers")
	fc.Session.SessionTimeout = tomlString(tree, "session.session_timeout")
	fc.Session.SessionNumber = tomlInt(tree, "session.session_number")
	fc.Logs.LogError = tomlString(tree, "logs.log_error")
	fc.Logs.LogInfos = tomlString(tree, "logs.log_infos")
	fc.Logs.LogLevel = tomlString(tree, "logs.log_level")
	cfg.apply(&fc)
	return nil
}

func tomlString(tree *toml.Tree, key string) string {
	v, _ := tree.Get(key).(string)
	return v
}

func tomlInt(tree *toml.Tree, key string) int {
	v, _ := tree.Get(key).(int64)
	return int(v)
}

// apply 只覆盖文件中出现的配置项
func (cfg *Cfg) apply(fc *fileCfg) {
	setString(&cfg.TransactionControl, fc.Trx.TransactionControl)
	setString(&cfg.LockWaitTimeout, fc.Trx.LockWaitTimeout)
	if fc.Trx.DeadlockDetect != nil {
		cfg.DeadlockDetect = *fc.Trx.DeadlockDetect
	}
	setInt(&cfg.LockShards, fc.Trx.LockShards)
	setString(&cfg.PurgeInterval, fc.Trx.PurgeInterval)
	setInt(&cfg.PurgeWorkers, fc.Trx.PurgeWorkers)

	setString(&cfg.SessionTimeout, fc.Session.SessionTimeout)
	setInt(&cfg.SessionNumber, fc.Session.SessionNumber)

	setString(&cfg.LogError, fc.Logs.LogError)
	setString(&cfg.LogInfos, fc.Logs.LogInfos)
	setString(&cfg.LogLevel, fc.Logs.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func (cfg *Cfg) parseTrxCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.TransactionControl, _ = valueAsString(section, "transaction_control", cfg.TransactionControl)
	cfg.LockWaitTimeout, _ = valueAsString(section, "lock_wait_timeout", cfg.LockWaitTimeout)
	cfg.DeadlockDetect = section.Key("deadlock_detect").MustBool(cfg.DeadlockDetect)
	cfg.LockShards = section.Key("lock_shards").MustInt(cfg.LockShards)
	cfg.PurgeInterval, _ = valueAsString(section, "purge_interval", cfg.PurgeInterval)
	cfg.PurgeWorkers = section.Key("purge_workers").MustInt(cfg.PurgeWorkers)
	return cfg
}

func (cfg *Cfg) parseSessionCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.SessionTimeout, _ = valueAsString(section, "session_timeout", cfg.SessionTimeout)
	cfg.SessionNumber = section.Key("session_number").MustInt(cfg.SessionNumber)
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.LogError, _ = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos, _ = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel, _ = valueAsString(section, "log_level", cfg.LogLevel)
	return cfg
}

// normalize 解析时长并校验取值
func (cfg *Cfg) normalize() error {
	var err error
	if _, err = trx.ParseTransactionControl(cfg.TransactionControl); err != nil {
		return jerrors.NotValidf("transaction_control %q", cfg.TransactionControl)
	}
	if cfg.LockWaitTimeoutDuration, err = time.ParseDuration(cfg.LockWaitTimeout); err != nil {
		return jerrors.Annotatef(err, "time.ParseDuration(LockWaitTimeout{%#v})", cfg.LockWaitTimeout)
	}
	if cfg.PurgeIntervalDuration, err = time.ParseDuration(cfg.PurgeInterval); err != nil {
		return jerrors.Annotatef(err, "time.ParseDuration(PurgeInterval{%#v})", cfg.PurgeInterval)
	}
	if cfg.SessionTimeoutDuration, err = time.ParseDuration(cfg.SessionTimeout); err != nil {
		return jerrors.Annotatef(err, "time.ParseDuration(SessionTimeout{%#v})", cfg.SessionTimeout)
	}
	if cfg.SessionNumber <= 0 {
		return jerrors.NotValidf("session_number %d", cfg.SessionNumber)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	isValid := false
	for _, level := range validLevels {
		if cfg.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		logger.Warnf("无效的日志级别 '%s', 使用默认级别 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return nil
}

// TrxConfig 事务管理器配置
func (cfg *Cfg) TrxConfig() trx.Config {
	control, _ := trx.ParseTransactionControl(cfg.TransactionControl)
	return trx.Config{
		TransactionControl: control,
		LockTimeout:        cfg.LockWaitTimeoutDuration,
		DeadlockDetect:     cfg.DeadlockDetect,
		LockShards:         cfg.LockShards,
		PurgeWorkers:       cfg.PurgeWorkers,
	}
}

// LogConfig 日志配置
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	if section == nil {
		return defaultValue, nil
	}
	value = section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value, nil
}

// GetString 获取ini配置项的字符串值，key形如 section.key
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return ""
	}
	value, _ := valueAsString(cfg.Raw.Section(parts[0]), strings.Join(parts[1:], "."), "")
	return value
}

// GetInt 获取ini配置项的整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return 0
	}
	return cfg.Raw.Section(parts[0]).Key(strings.Join(parts[1:], ".")).MustInt(0)
}
