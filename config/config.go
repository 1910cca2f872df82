// Package config handles contentqueue configuration: which repository to
// watch, how to reach GitHub, and how long to trust what it said.
//
// Settings come from flags, then CONTENTQUEUE_* environment variables, then
// ~/.contentqueue (yaml), then the defaults here.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"maze.io/x/duration"

	"github.com/ts4z/contentqueue/github"
)

const envPrefix = "CONTENTQUEUE"

var keys = []string{
	"repo",
	"token",
	"api_url",
	"project_id",
	"cache_time",
	"update_interval",
	"listen_address",
	"requests_per_second",
	"identity_cache_size",
	"allowed_origins",
}

// Viper-based config loader
func Init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".contentqueue")
	viper.AddConfigPath(home)
	viper.AutomaticEnv()
	for _, k := range keys {
		viper.BindEnv(k, envPrefix+"_"+strings.ToUpper(k))
	}
	viper.SetDefault("api_url", github.DefaultBaseURL)
	viper.SetDefault("project_id", 0)
	viper.SetDefault("cache_time", "60s")
	viper.SetDefault("update_interval", "60s")
	viper.SetDefault("listen_address", "")
	viper.SetDefault("requests_per_second", 1.0)
	viper.SetDefault("identity_cache_size", 1024)
	viper.SetDefault("allowed_origins", []string{"*"})
	err = viper.ReadInConfig() // ignore error if config file missing
	if err != nil {
		log.Printf("viper can't read config file: %v", err)
	}
	log.Printf("Using repository: %s", viper.GetString("repo"))
	log.Printf("Using API URL: %s", viper.GetString("api_url"))
}

// ParseDuration accepts Go durations as well as days and weeks ("1d").
func ParseDuration(s string) (time.Duration, error) {
	d, err := duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("can't parse duration %q: %w", s, err)
	}
	return time.Duration(d), nil
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(viper.GetString(key))
	if err != nil {
		log.Printf("%s: %v, using %v", key, err, fallback)
		return fallback
	}
	if d <= 0 {
		log.Printf("%s: %v is not positive, using %v", key, d, fallback)
		return fallback
	}
	return d
}

// Repo is "owner/name".
func Repo() string {
	return viper.GetString("repo")
}

func Token() string {
	return viper.GetString("token")
}

func APIURL() string {
	return viper.GetString("api_url")
}

func ProjectID() int64 {
	return viper.GetInt64("project_id")
}

// CacheTime is how long fetched data stays fresh.
func CacheTime() time.Duration {
	return durationOr("cache_time", 60*time.Second)
}

func UpdateInterval() time.Duration {
	return durationOr("update_interval", 60*time.Second)
}

// ListenAddress is where the status server listens.  Empty means don't.
func ListenAddress() string {
	return viper.GetString("listen_address")
}

func RequestsPerSecond() float64 {
	return viper.GetFloat64("requests_per_second")
}

func IdentityCacheSize() int {
	return viper.GetInt("identity_cache_size")
}

func AllowedOrigins() []string {
	return viper.GetStringSlice("allowed_origins")
}
