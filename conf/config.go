/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package conf

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/CovenantSQL/keydir/utils/log"
)

// EnvDatabaseURL overrides Database.URL of the config file when set.
const EnvDatabaseURL = "KEYDIR_DATABASE_URL"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// DatabaseConfig names the backend of the directory.
type DatabaseConfig struct {
	// URL is a database url such as postgres://user@host/db or sqlite:/path/keydir.db.
	URL      string `yaml:"URL"`
	PoolSize int    `yaml:"PoolSize"`
}

// RootKey is the root key custody config, see package vrfkey.
type RootKey struct {
	// Type is "symmetric" or "rsa".
	Type string `yaml:"Type"`
	// SymmetricKey is the base64 encoded 32 byte key of the symmetric scheme.
	SymmetricKey string `yaml:"SymmetricKey"`
	// RSAKeyFile is a PEM encoded RSA private key of the rsa scheme.
	RSAKeyFile string `yaml:"RSAKeyFile"`
}

// PublisherConfig tunes the epoch publisher.
type PublisherConfig struct {
	Interval   time.Duration `yaml:"Interval"`
	EpochLimit int           `yaml:"EpochLimit"`
}

// ReaderConfig tunes the read side daemon.
type ReaderConfig struct {
	PollInterval  time.Duration `yaml:"PollInterval"`
	ExpectedEpoch time.Duration `yaml:"ExpectedEpoch"`
	ListenAddr    string        `yaml:"ListenAddr"`
}

// CacheConfig sizes the record read cache, a zero size disables it.
type CacheConfig struct {
	Size int           `yaml:"Size"`
	TTL  time.Duration `yaml:"TTL"`
}

// LogConfig sets the log output.
type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
}

// Config holds all the config read from yaml config file.
type Config struct {
	Database  DatabaseConfig  `yaml:"Database"`
	RootKey   RootKey         `yaml:"RootKey"`
	Publisher PublisherConfig `yaml:"Publisher"`
	Reader    ReaderConfig    `yaml:"Reader"`
	Cache     CacheConfig     `yaml:"Cache"`
	Log       LogConfig       `yaml:"Log"`
}

// GConf is the global config pointer.
var GConf *Config

// Default returns a config carrying every default value.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{PoolSize: DefaultPoolSize},
		RootKey:  RootKey{Type: "symmetric"},
		Publisher: PublisherConfig{
			Interval:   DefaultPublishInterval,
			EpochLimit: DefaultEpochLimit,
		},
		Reader: ReaderConfig{
			PollInterval:  DefaultPollInterval,
			ExpectedEpoch: DefaultPublishInterval,
			ListenAddr:    DefaultListenAddr,
		},
		Cache: CacheConfig{TTL: DefaultCacheTTL},
		Log:   LogConfig{Level: DefaultLogLevel, Format: "text"},
	}
}

// Validate checks the values the services cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Database.URL == "":
		return errors.Wrap(ErrInvalidConfig, "Database.URL is empty")
	case c.Publisher.Interval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "Publisher.Interval %s", c.Publisher.Interval)
	case c.Reader.PollInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "Reader.PollInterval %s", c.Reader.PollInterval)
	case c.Reader.ExpectedEpoch <= 0:
		return errors.Wrapf(ErrInvalidConfig, "Reader.ExpectedEpoch %s", c.Reader.ExpectedEpoch)
	case c.Cache.Size < 0:
		return errors.Wrapf(ErrInvalidConfig, "Cache.Size %d", c.Cache.Size)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "Log.Level %q", c.Log.Level)
	}
	return nil
}

// Parse decodes yaml over the defaults and applies the environment override.
func Parse(data []byte) (config *Config, err error) {
	config = Default()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if url := os.Getenv(EnvDatabaseURL); url != "" {
		config.Database.URL = url
	}
	if config.Database.PoolSize <= 0 {
		config.Database.PoolSize = DefaultPoolSize
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfig loads config from configPath.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		log.WithError(err).WithField("path", configPath).Error("read config file failed")
		return
	}
	if config, err = Parse(configBytes); err != nil {
		log.WithError(err).WithField("path", configPath).Error("load config file failed")
		return
	}
	return
}
