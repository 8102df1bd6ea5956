// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/lakeshuffle/internal/rss"
	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Shuffle      shuffle.Config     `mapstructure:"shuffle"`
	RSS          rss.Config         `mapstructure:"rss"`
	Partitioning PartitioningConfig `mapstructure:"partitioning"`
}

// PartitioningConfig describes the default hash partitioning of a write.
type PartitioningConfig struct {
	NumPartitions int      `mapstructure:"num_partitions"`
	Columns       []string `mapstructure:"columns"`
	Algorithm     string   `mapstructure:"algorithm"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "LAKESHUFFLE" and the dot character
// in keys is replaced by an underscore. For example, "shuffle.codec" becomes
// "LAKESHUFFLE_SHUFFLE_CODEC".
func Load() (*Config, error) {
	cfg := &Config{
		Shuffle: shuffle.DefaultConfig(),
		RSS:     rss.DefaultConfig(),
		Partitioning: PartitioningConfig{
			NumPartitions: 200,
			Algorithm:     "murmur3",
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LAKESHUFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if c := v.GetString("partitioning.columns"); c != "" {
		cfg.Partitioning.Columns = strings.Split(c, ",")
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts[:len(parts):len(parts)], tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
