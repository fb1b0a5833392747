package mint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlbern/nutmeg/mint/lightning"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

type Config struct {
	// Mnemonic is the BIP-39 phrase the master seed derives from.
	Mnemonic       string
	DerivationPath string
	Port           string
	MintPath       string
	// DBBackend selects the storage engine: "bolt" or "sqlite".
	DBBackend       string
	LightningClient lightning.Client
	LogLevel        LogLevel
}

// GetConfig builds the mint configuration from the environment.
// The daemon loads .env beforehand.
func GetConfig() (Config, error) {
	mnemonic := os.Getenv("NUTMEG_MNEMONIC")
	if mnemonic == "" {
		return Config{}, errors.New("NUTMEG_MNEMONIC cannot be empty")
	}

	derivationPath := os.Getenv("NUTMEG_DERIVATION_PATH")
	if derivationPath == "" {
		derivationPath = "0/0/0"
	}

	port := os.Getenv("NUTMEG_PORT")
	if port == "" {
		port = "3338"
	}

	mintPath := os.Getenv("NUTMEG_PATH")
	if mintPath == "" {
		mintPath = defaultMintPath()
	}

	dbBackend := os.Getenv("NUTMEG_DB_BACKEND")
	if dbBackend == "" {
		dbBackend = "bolt"
	}

	lightningClient, err := lightningClientFromEnv()
	if err != nil {
		return Config{}, err
	}

	logLevel := Info
	if os.Getenv("NUTMEG_LOG_LEVEL") == "debug" {
		logLevel = Debug
	}

	return Config{
		Mnemonic:        mnemonic,
		DerivationPath:  derivationPath,
		Port:            port,
		MintPath:        mintPath,
		DBBackend:       dbBackend,
		LightningClient: lightningClient,
		LogLevel:        logLevel,
	}, nil
}

func lightningClientFromEnv() (lightning.Client, error) {
	switch backend := os.Getenv("LIGHTNING_BACKEND"); backend {
	case "", "fake":
		return &lightning.FakeBackend{}, nil

	case "lnd":
		return lightning.SetupLndClient(lightning.LndConfig{
			GRPCHost:     os.Getenv("LND_GRPC_HOST"),
			CertPath:     os.Getenv("LND_CERT_PATH"),
			MacaroonPath: os.Getenv("LND_MACAROON_PATH"),
		})

	case "lnd-rest":
		return lightning.SetupLndRestClient(lightning.LndRestConfig{
			Host:         os.Getenv("LND_REST_HOST"),
			CertPath:     os.Getenv("LND_CERT_PATH"),
			MacaroonPath: os.Getenv("LND_MACAROON_PATH"),
		})

	default:
		return nil, fmt.Errorf("invalid lightning backend: %v", backend)
	}
}

// defaultMintPath returns the mint's path at $HOME/.nutmeg/mint
func defaultMintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	path := filepath.Join(homedir, ".nutmeg", "mint")
	if err := os.MkdirAll(path, 0700); err != nil {
		panic(err)
	}
	return path
}
