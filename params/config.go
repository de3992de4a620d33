package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	ListenAddr string
	// AllowedOrigins for CORS (frontend dev servers by default)
	AllowedOrigins []string
}

type Storage struct {
	// DataDir is the root directory for pebble databases (orders, ledger)
	DataDir string
}

type Node struct {
	// LogFile receives the structured log tee; empty means console only
	LogFile string
	// VaultAddress is the escrow custodian address (hex). All pledged
	// assets are held at this address while their orders are open.
	VaultAddress string
}

type Config struct {
	API     API
	Storage Storage
	Node    Node
}

func Default() Config {
	return Config{
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Storage: Storage{
			DataDir: "./data",
		},
		Node: Node{
			LogFile:      "data/node.log",
			VaultAddress: "0x00000000000000000000000000000000e5c20001",
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

	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		// Example: "http://localhost:3000,https://app.example.com"
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}
	if vault := os.Getenv("VAULT_ADDRESS"); vault != "" {
		cfg.Node.VaultAddress = vault
	}

	return cfg
}
