package env

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	DefaultAddress  = "127.0.0.1"
	DefaultPort     = 8989
	DefaultLogLevel = "info"
	DefaultHTTPAddr = ":7362"
)

type Config struct {
	// Address and Port of the queue server
	Address string `env:"TASKQ_ADDRESS" toml:"address"`
	Port    int    `env:"TASKQ_PORT" toml:"port"`

	// ReadSize is the number of bytes requested per socket read
	ReadSize int `env:"TASKQ_READ_SIZE" toml:"read_size"`

	LogLevel string `env:"TASKQ_LOG_LEVEL" toml:"log_level"`

	// HTTPAddr is where the gateway listens
	HTTPAddr  string `env:"TASKQ_HTTP_ADDR" toml:"http_addr"`
	DebugHTTP bool   `env:"TASKQ_DEBUG_HTTP" toml:"debug_http"`
}

// LoadConfig builds the config from, in increasing order of precedence, the
// optional TOML file at path, .env.local and the environment.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load .env.local: %w", err)
		}
	}

	// go-envconfig leaves non-zero fields alone, so the environment is read
	// into an empty config and the file only fills what it left unset.
	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	if path != "" {
		var file Config
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("Failed to load config file %s: %w", path, err)
		}

		config.fillFrom(&file)
	}

	config.setDefaults()

	return &config, nil
}

// fillFrom copies the fields of other into the fields of c that are unset.
func (c *Config) fillFrom(other *Config) {
	if c.Address == "" {
		c.Address = other.Address
	}

	if c.Port == 0 {
		c.Port = other.Port
	}

	if c.ReadSize == 0 {
		c.ReadSize = other.ReadSize
	}

	if c.LogLevel == "" {
		c.LogLevel = other.LogLevel
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = other.HTTPAddr
	}

	if !c.DebugHTTP {
		c.DebugHTTP = other.DebugHTTP
	}
}

func (c *Config) setDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
}
