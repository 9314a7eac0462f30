// Package config loads the analyzer's JSON configuration document and
// merges it with command-line flags and UPSCQA_* environment variables.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/upscqa/analyzer/internal/pathres"
)

// Config holds all runtime settings for one analyzer invocation.
type Config struct {
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	BatchSize  int

	InputDir      string
	FilePattern   string
	OutputDir     string
	ExcelFilename string
	SheetName     string
}

// ForCommand binds a command's flags and environment to a fresh viper
// instance and reads the config file from the resolver's search paths.
func ForCommand(cmd *cobra.Command, res pathres.Resolver) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("UPSCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("json")
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("analyzer")
		for _, dir := range res.ConfigDirs() {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ollama.model", "llama3.1:8b")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.timeout", 120)
	v.SetDefault("input.folder", "input")
	v.SetDefault("input.file_pattern", "*.txt")
	v.SetDefault("output.folder", "output")
	v.SetDefault("output.excel_filename", "analysis_results.xlsx")
	v.SetDefault("analysis.batch_size", 5)
	v.SetDefault("analysis.max_retries", 3)
	v.SetDefault("analysis.retry_delay", 2)
	v.SetDefault("excel.sheet_name", "UPSC Question Analysis")
}

// FromViper materialises a Config from a bound viper instance. Paths
// are resolved against the resolver's base directory.
func FromViper(v *viper.Viper, res pathres.Resolver) Config {
	return Config{
		Model:      v.GetString("ollama.model"),
		BaseURL:    v.GetString("ollama.base_url"),
		Timeout:    time.Duration(v.GetInt("ollama.timeout")) * time.Second,
		MaxRetries: v.GetInt("analysis.max_retries"),
		RetryDelay: time.Duration(v.GetInt("analysis.retry_delay")) * time.Second,
		BatchSize:  v.GetInt("analysis.batch_size"),

		InputDir:      res.Resolve(v.GetString("input.folder")),
		FilePattern:   v.GetString("input.file_pattern"),
		OutputDir:     res.Resolve(v.GetString("output.folder")),
		ExcelFilename: v.GetString("output.excel_filename"),
		SheetName:     v.GetString("excel.sheet_name"),
	}
}
