package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Domain is the EIP-712 domain every order is signed under. Off-line
// signers must use the same values.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

type Engine struct {
	MarginEngine common.Address
	Oracle       common.Address
	Ledger       common.Address
	// StopLossFreshness is how old an oracle reading may be before a
	// stop-loss close is refused with UPF.
	StopLossFreshness time.Duration
	CheckTWAP         bool
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string // empty = stdout only
	LogLevel    string
	JournalFile string // empty = no event journal
	CORSOrigins []string
	Devnet      bool // run against in-process margin engine, oracle and ledger

	KeeperEnabled  bool
	KeeperInterval time.Duration
	FillerAddress  common.Address
	PoolSize       int
}

type P2P struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
}

type Config struct {
	Domain Domain
	Engine Engine
	Node   Node
	P2P    P2P
}

func Default() Config {
	return Config{
		Domain: Domain{
			Name:    "OpenLeverage Limit Order",
			Version: "1",
			ChainID: big.NewInt(1337),
		},
		Engine: Engine{
			MarginEngine:      common.HexToAddress("0x00000000000000000000000000000000000000e0"),
			Oracle:            common.HexToAddress("0x00000000000000000000000000000000000000e1"),
			Ledger:            common.HexToAddress("0x00000000000000000000000000000000000000e2"),
			StopLossFreshness: 60 * time.Second,
			CheckTWAP:         true,
		},
		Node: Node{
			DataDir:        "data",
			APIAddr:        ":8080",
			LogLevel:       "info",
			JournalFile:    "data/events.log",
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:3001"},
			Devnet:         true,
			KeeperEnabled:  true,
			KeeperInterval: time.Second,
			PoolSize:       10_000,
		},
		P2P: P2P{
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Domain
	cfg.Domain.Name = getEnv("DOMAIN_NAME", cfg.Domain.Name)
	cfg.Domain.Version = getEnv("DOMAIN_VERSION", cfg.Domain.Version)
	if id := os.Getenv("DOMAIN_CHAIN_ID"); id != "" {
		if v, ok := new(big.Int).SetString(id, 10); ok {
			cfg.Domain.ChainID = v
		}
	}
	setAddress(&cfg.Domain.VerifyingContract, "DOMAIN_VERIFYING_CONTRACT")

	// Engine
	setAddress(&cfg.Engine.MarginEngine, "ENGINE_MARGIN_ADDRESS")
	setAddress(&cfg.Engine.Oracle, "ENGINE_ORACLE_ADDRESS")
	setAddress(&cfg.Engine.Ledger, "ENGINE_LEDGER_ADDRESS")
	setMillis(&cfg.Engine.StopLossFreshness, "ENGINE_STOPLOSS_FRESHNESS_MS")
	setBool(&cfg.Engine.CheckTWAP, "ENGINE_CHECK_TWAP")

	// Node
	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("NODE_API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("NODE_LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("NODE_LOG_LEVEL", cfg.Node.LogLevel)
	if v, ok := os.LookupEnv("NODE_JOURNAL_FILE"); ok {
		cfg.Node.JournalFile = v
	}
	if v := os.Getenv("NODE_CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = splitList(v)
	}
	setBool(&cfg.Node.Devnet, "NODE_DEVNET")
	setBool(&cfg.Node.KeeperEnabled, "KEEPER_ENABLED")
	setMillis(&cfg.Node.KeeperInterval, "KEEPER_INTERVAL_MS")
	setAddress(&cfg.Node.FillerAddress, "KEEPER_FILLER_ADDRESS")
	if v := os.Getenv("NODE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.PoolSize = n
		}
	}

	// P2P
	setBool(&cfg.P2P.Enabled, "P2P_ENABLED")
	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN_ADDR", cfg.P2P.ListenAddr)
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		// Example: "/ip4/10.0.0.2/tcp/9000/p2p/12D3KooW...,/ip4/..."
		cfg.P2P.Bootstrap = splitList(v)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func setAddress(dst *common.Address, key string) {
	if v := os.Getenv(key); common.IsHexAddress(v) {
		*dst = common.HexToAddress(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
