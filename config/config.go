package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 XNODE_LISTEN、XNODE_MAX_PEERS
const EnvPrefix = "XNODE"

const (
	keyNetwork        = "network"
	keyDataDir        = "datadir"
	keyListen         = "listen"
	keyExternal       = "external"
	keyPeers          = "peers"
	keyMaxPeers       = "max-peers"
	keyMaxPoolTxs     = "max-pool-txs"
	keyRecordCapacity = "record-capacity"
	keyDB             = "db"
	keyRPC            = "rpc"
	keyLogLevel       = "log-level"
	keyInboundRate    = "inbound-rate"
	keyBlockTime      = "block-time"
	keyEnvFile        = "env-file"
	keyConfigFile     = "config"
)

const (
	BackendLevelDB = "leveldb"
	BackendBadger  = "badger"
)

type Config struct {
	Network string
	DataDir string
	// Listen 为空时监听所有地址上的默认端口
	Listen string
	// External 写进 version 的本机地址，可为空
	External       string
	Peers          []string
	MaxPeers       int
	MaxPoolTxs     int
	RecordCapacity uint32
	DB             string
	RPC            string
	LogLevel       string
	InboundRate    float64
	// BlockTime 为负时使用网络默认值
	BlockTime time.Duration

	params *Params
}

// SetDefaults 写入所有配置项的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyNetwork, RegTestParams.Name)
	v.SetDefault(keyDataDir, "./data")
	v.SetDefault(keyListen, "")
	v.SetDefault(keyExternal, "")
	v.SetDefault(keyPeers, []string{})
	v.SetDefault(keyMaxPeers, 125)
	v.SetDefault(keyMaxPoolTxs, 50000)
	v.SetDefault(keyRecordCapacity, 128*1024*1024)
	v.SetDefault(keyDB, BackendLevelDB)
	v.SetDefault(keyRPC, "127.0.0.1:8000")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyInboundRate, 200.0)
	v.SetDefault(keyBlockTime, time.Duration(-1))
	v.SetDefault(keyEnvFile, ".env")
	v.SetDefault(keyConfigFile, "")
}

// RegisterFlags 在 flags 上注册命令行参数并绑定到 v
func RegisterFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String(keyNetwork, RegTestParams.Name, "network to join: mainnet, testnet or regtest")
	flags.String(keyDataDir, "./data", "directory for block records and the index database")
	flags.String(keyListen, "", "address to listen for peers on (default all interfaces on the network port)")
	flags.String(keyExternal, "", "address advertised to peers in the version message")
	flags.StringSlice(keyPeers, nil, "peers to connect to and keep connected, comma separated")
	flags.Int(keyMaxPeers, 125, "maximum number of connected peers")
	flags.Int(keyMaxPoolTxs, 50000, "maximum number of transactions kept in the memory pool")
	flags.Uint32(keyRecordCapacity, 128*1024*1024, "size of each block record file in bytes")
	flags.String(keyDB, BackendLevelDB, "index database backend: leveldb or badger")
	flags.String(keyRPC, "127.0.0.1:8000", "JSON-RPC listen address, empty to disable")
	flags.String(keyLogLevel, "info", "log level: debug, info, warn or error")
	flags.Float64(keyInboundRate, 200, "messages per second processed per connection")
	flags.Duration(keyBlockTime, -1, "regtest block interval, 0 disables block production")
	flags.String(keyEnvFile, ".env", "dotenv file loaded before reading the environment")
	flags.String(keyConfigFile, "", "optional config file (yaml, toml or json)")
	return v.BindPFlags(flags)
}

// Load 依次叠加默认值、配置文件、.env、环境变量和命令行参数
func Load(v *viper.Viper) (*Config, error) {
	if err := loadEnvFile(v.GetString(keyEnvFile)); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(keyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Network:        v.GetString(keyNetwork),
		DataDir:        v.GetString(keyDataDir),
		Listen:         v.GetString(keyListen),
		External:       v.GetString(keyExternal),
		Peers:          splitList(v.GetStringSlice(keyPeers)),
		MaxPeers:       v.GetInt(keyMaxPeers),
		MaxPoolTxs:     v.GetInt(keyMaxPoolTxs),
		RecordCapacity: v.GetUint32(keyRecordCapacity),
		DB:             strings.ToLower(v.GetString(keyDB)),
		RPC:            v.GetString(keyRPC),
		LogLevel:       strings.ToLower(v.GetString(keyLogLevel)),
		InboundRate:    v.GetFloat64(keyInboundRate),
		BlockTime:      v.GetDuration(keyBlockTime),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile 文件不存在时忽略。已经存在的环境变量不会被覆盖
func loadEnvFile(file string) error {
	if file == "" {
		return nil
	}
	err := godotenv.Load(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load env file %s: %w", file, err)
	}
	return nil
}

// splitList 环境变量里的列表以逗号或空白分隔
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, s := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	params, err := ParamsFor(c.Network)
	if err != nil {
		return err
	}
	c.params = params

	switch c.DB {
	case BackendLevelDB, BackendBadger:
	default:
		return fmt.Errorf("unknown db backend %q", c.DB)
	}
	if c.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	if c.MaxPeers < 0 {
		return fmt.Errorf("max-peers must not be negative")
	}
	if c.MaxPoolTxs <= 0 {
		return fmt.Errorf("max-pool-txs must be positive")
	}
	if c.InboundRate <= 0 {
		return fmt.Errorf("inbound-rate must be positive")
	}
	if c.External != "" {
		if _, err := netip.ParseAddrPort(c.External); err != nil {
			return fmt.Errorf("external address: %w", err)
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Params 所选网络的参数，Validate 之后可用
func (c *Config) Params() *Params {
	return c.params
}

// ListenAddr 未配置时使用网络默认端口
func (c *Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return net.JoinHostPort("", strconv.Itoa(int(c.params.DefaultPort)))
}

// ExternalAddr 未配置时返回零值
func (c *Config) ExternalAddr() netip.AddrPort {
	ap, _ := netip.ParseAddrPort(c.External)
	return ap
}

// EffectiveBlockTime 未显式配置时取网络默认值
func (c *Config) EffectiveBlockTime() time.Duration {
	if c.BlockTime < 0 {
		return c.params.BlockTime
	}
	return c.BlockTime
}

func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, c.Network, "index")
}

func (c *Config) BlocksDir() string {
	return filepath.Join(c.DataDir, c.Network, "blocks")
}
