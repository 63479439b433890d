package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

// EngineConfig is the top-level viper-backed configuration for the index
// engine: where its files live, how its buffer pool and write-ahead log are
// sized, and which optional behaviors (page compression) are enabled.
type EngineConfig struct {
	Storage struct {
		Dir      string `mapstructure:"dir"`
		PageSize int    `mapstructure:"page_size"`
	} `mapstructure:"storage"`

	Pagestore struct {
		CapacityFrames int `mapstructure:"capacity_frames"`
	} `mapstructure:"pagestore"`

	Mtr struct {
		WalDir       string `mapstructure:"wal_dir"`
		FlushOnCommit bool  `mapstructure:"flush_on_commit"`
	} `mapstructure:"mtr"`

	Btree struct {
		Compress        bool `mapstructure:"compress"`
		IbufFreeListLow int  `mapstructure:"ibuf_free_list_low"`
	} `mapstructure:"btree"`

	Server struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("storage.page_size", 8192)
	v.SetDefault("pagestore.capacity_frames", 1024)
	v.SetDefault("mtr.flush_on_commit", true)
	v.SetDefault("btree.compress", false)
	v.SetDefault("btree.ibuf_free_list_low", 32)
}

func LoadConfig(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigOrDefault behaves like LoadConfig when path is non-empty, and
// otherwise returns the built-in defaults unmarshalled on their own, for
// tools that run against a bare storage directory with no config file.
func LoadConfigOrDefault(path string) (*EngineConfig, error) {
	if path == "" {
		v := viper.New()
		defaults(v)
		var cfg EngineConfig
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("unmarshal default config: %w", err)
		}
		return &cfg, nil
	}
	return LoadConfig(path)
}
