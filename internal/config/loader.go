package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/spf13/viper"
)

type EnvMap struct {
	EnvMappings map[string]string `mapstructure:"env_mappings,omitempty"`
}

type SecretMap struct {
	Secrets *Secrets `mapstructure:"secrets,omitempty"`
}

type Secrets struct {
	Dir      string            `mapstructure:"dir,omitempty"`
	Mappings map[string]string `mapstructure:"mappings,omitempty"`
}

// DefaultConfigDirs are searched in order when no directory is given to LoadConfig.
var DefaultConfigDirs = []string{"config", "./config", "../../config"}

// readConfig locates and reads a configuration file using Viper. It searches for
// a file named "{name}.{ext}" in each of the given directories in order; the first
// found file is read.
func readConfig(logger *slog.Logger, name string, ext string, dirs ...string) (*viper.Viper, error) {
	logger.Info("Reading the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs))

	configValues := viper.New()

	configValues.SetConfigName(name)
	configValues.SetConfigType(ext)
	for _, dir := range dirs {
		configValues.AddConfigPath(dir)
	}
	err := configValues.ReadInConfig()

	if err != nil {
		logger.Error("Failed to read the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs), "error", err.Error())
	} else {
		logger.Info("Read the configuration file", "file", configValues.ConfigFileUsed())
	}

	return configValues, err
}

// mergeConfigPath merges the file named by CONFIG_PATH on top of the bundled
// configuration. Sections are merged key by key except for the secrets section
// which is replaced as a whole, the bundled secret mappings refer to files that
// only exist in the bundled deployment.
func mergeConfigPath(logger *slog.Logger, configValues *viper.Viper) error {
	configPath := os.Getenv(constants.EnvVarConfigPath)
	if configPath == "" {
		return nil
	}
	ext := strings.TrimPrefix(filepath.Ext(configPath), ".")
	name := strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
	override, err := readConfig(logger, name, ext, filepath.Dir(configPath))
	if err != nil {
		return err
	}
	if err := configValues.MergeConfigMap(override.AllSettings()); err != nil {
		return err
	}
	if override.IsSet("secrets") {
		configValues.Set("secrets", override.Get("secrets"))
	}
	logger.Info("Merged the configuration override", "file", configPath)
	return nil
}

// LoadConfig loads configuration using a layered system with Viper.
//
// Configuration loading order (later sources override earlier ones):
//  1. config.yaml found in the first of dirs (DefaultConfigDirs when dirs is empty)
//  2. The file named by CONFIG_PATH, if set
//  3. Environment variables - Mapped via env_mappings
//  4. Secrets from files - Mapped via secrets.mappings with secrets.dir
//
// Secrets can be optional by appending :optional to the secret file name. If an
// optional secret file doesn't exist the configuration continues loading without it.
//
// Example configuration structure:
//
//	env_mappings:
//	  mlflow_tracking_uri: mlflow.tracking_uri
//	secrets:
//	  dir: /var/run/secrets/model-forge
//	  mappings:
//	    roboflow_api_key: dataset.roboflow.api_key
//	    db_password:optional: database.password
//
// Parameters:
//   - logger: The logger for configuration loading messages
//   - version, build, buildDate: Stamped into the pipeline section
//   - dirs: Directories to search for config.yaml
//
// Returns:
//   - *Config: The loaded configuration with all sources applied
//   - error: An error if configuration cannot be loaded
func LoadConfig(logger *slog.Logger, version string, build string, buildDate string, dirs ...string) (*Config, error) {
	if len(dirs) == 0 {
		dirs = DefaultConfigDirs
	}
	configValues, err := readConfig(logger, "config", "yaml", dirs...)
	if err != nil {
		return nil, err
	}
	if err := mergeConfigPath(logger, configValues); err != nil {
		return nil, err
	}

	// set up the environment variable mappings
	envMappings := EnvMap{}
	if err := configValues.Unmarshal(&envMappings); err != nil {
		return nil, err
	}
	for envName, field := range envMappings.EnvMappings {
		if err := configValues.BindEnv(field, strings.ToUpper(envName)); err != nil {
			return nil, err
		}
		logger.Info("Mapped environment variable", "field_name", field, "env_name", envName)
	}

	// set up the secrets from the secrets directory
	secrets := SecretMap{}
	if err := configValues.Unmarshal(&secrets); err != nil {
		return nil, err
	}
	if secrets.Secrets != nil && secrets.Secrets.Dir != "" {
		if _, err := os.Stat(secrets.Secrets.Dir); !os.IsNotExist(err) {
			for fileName, fieldName := range secrets.Secrets.Mappings {
				optional := strings.HasSuffix(fileName, ":optional")
				if optional {
					fileName = strings.TrimSuffix(fileName, ":optional")
				}
				secret, err := getSecret(secrets.Secrets.Dir, fileName, optional)
				if err != nil {
					logger.Error("Failed to read secret file", "file", filepath.Join(secrets.Secrets.Dir, fileName), "error", err.Error())
					return nil, err
				}
				if secret != "" {
					configValues.Set(fieldName, secret)
				}
			}
		}
	}

	conf := Config{}
	if err := configValues.Unmarshal(&conf); err != nil {
		return nil, err
	}
	if conf.Pipeline == nil {
		conf.Pipeline = &PipelineConfig{}
	}
	conf.Pipeline.Version = version
	conf.Pipeline.Build = build
	conf.Pipeline.BuildDate = buildDate
	if conf.Pipeline.PublishDir == "" {
		conf.Pipeline.PublishDir = constants.DefaultPublishDir
	}
	return &conf, nil
}

// Validate checks the sections that drive the pipeline.
func (c *Config) Validate(ctx context.Context, logger *slog.Logger, validate *validator.Validate) error {
	if c.Dataset != nil {
		if err := validation.Struct(ctx, logger, validate, c.Dataset); err != nil {
			return err
		}
	}
	if c.Training != nil {
		if err := validation.Struct(ctx, logger, validate, c.Training); err != nil {
			return err
		}
	}
	if c.Tracing != nil {
		if err := validation.Struct(ctx, logger, validate, c.Tracing); err != nil {
			return err
		}
	}
	if c.MLFlow != nil {
		if err := validation.Struct(ctx, logger, validate, c.MLFlow); err != nil {
			return err
		}
	}
	return nil
}

// getSecret reads a secret from a file and returns the value as a string.
// A missing optional secret is returned as an empty string without error.
func getSecret(secretsDir string, secretName string, optional bool) (string, error) {
	secret, err := os.ReadFile(filepath.Join(secretsDir, secretName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && optional {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}
