// Package config locates the crawler configuration file when none is given
// on the command line.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// SearchPaths are consulted in order for a file named config.{yaml,json,toml}.
var SearchPaths = []string{
	".",
	"/etc/jobcrawler/",
	"$HOME/.jobcrawler",
}

// Locate returns explicit when set, otherwise the first config file found on
// SearchPaths, or "" when there is none and defaults plus environment
// variables should be used.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	v := viper.New()
	v.SetConfigName("config")
	for _, p := range SearchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
