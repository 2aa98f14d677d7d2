package config

import "github.com/spf13/viper"

// Logger represents the logger configuration.
type Logger struct {
	// Level is the log level, 1 fatal, 2 error, 3 warn, 4 info, 5 debug.
	Level int
	// Format is the log format, json or text.
	Format string
	// Output is the log output, stdout, stderr or file.
	Output string
	// OutputFile is the log file path when output is file.
	OutputFile string
}

func getLoggerConfig(v *viper.Viper) *Logger {
	return &Logger{
		Level:      getIntOrDefault(v, "logger.level", 4),
		Format:     getStringOrDefault(v, "logger.format", "json"),
		Output:     getStringOrDefault(v, "logger.output", "stdout"),
		OutputFile: v.GetString("logger.output_file"),
	}
}
