package config

import (
	"time"

	"github.com/spf13/viper"
)

func getDurationOrDefault(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return def
}

func getIntOrDefault(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return def
}

func getStringOrDefault(v *viper.Viper, key string, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getBoolOrDefault(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}
