package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/agglayer/callkit/grpcconn"
	"github.com/agglayer/callkit/log"
	"github.com/agglayer/callkit/pprof"
	"github.com/agglayer/callkit/prometheus"
	"github.com/agglayer/callkit/retrycall"
)

const (
	// FlagCfg is the flag for cfg.
	FlagCfg = "cfg"
	// FlagSaveConfigPath is the flag to save the final configuration file
	FlagSaveConfigPath = "save-config-path"
	// FlagAllowDeprecatedFields is the flag to allow deprecated fields
	FlagAllowDeprecatedFields = "allow-deprecated-fields"

	EnvVarPrefix       = "CALLKIT"
	ConfigType         = "toml"
	SaveConfigFileName = "callkit_config.toml"

	DefaultCreationFilePermissions = os.FileMode(0600)

	retryableCodesRenamed = "Client.Retry.RetryableCodes was renamed, " +
		"use Client.Retry.RetryableStatusCodes instead"
	channelBufferLimitSplit = "Channel.BufferLimit was split, " +
		"use Channel.PerCallBufferLimit and Channel.ChannelBufferLimit instead"
)

type DeprecatedFieldsError struct {
	// key is the rule and the value is the field's name that matches the rule
	Fields map[DeprecatedField][]string
}

func NewErrDeprecatedFields() *DeprecatedFieldsError {
	return &DeprecatedFieldsError{
		Fields: make(map[DeprecatedField][]string),
	}
}

func (e *DeprecatedFieldsError) AddDeprecatedField(fieldName string, rule DeprecatedField) {
	p := e.Fields[rule]
	e.Fields[rule] = append(p, fieldName)
}

func (e *DeprecatedFieldsError) Error() string {
	res := "found deprecated fields:"
	for rule, fieldsMatches := range e.Fields {
		res += fmt.Sprintf("\n\t- %s: %s", rule.Reason, strings.Join(fieldsMatches, ", "))
	}
	return res
}

type DeprecatedField struct {
	// If the field name ends with a dot means that match a section
	FieldNamePattern string
	Reason           string
}

var deprecatedFieldsOnConfig = []DeprecatedField{
	{
		FieldNamePattern: "Client.Retry.RetryableCodes",
		Reason:           retryableCodesRenamed,
	},
	{
		FieldNamePattern: "Channel.BufferLimit",
		Reason:           channelBufferLimitSplit,
	},
}

/*
Config represents the configuration of the callkit demo binary
The file is [TOML format]

[TOML format]: https://en.wikipedia.org/wiki/TOML
*/
type Config struct {
	// Configure Log level for all the services, allow also to store the logs in a file
	Log log.Config

	// Prometheus is the configuration of the prometheus service
	Prometheus prometheus.Config

	// Profiling is the configuration of the profiling service
	Profiling pprof.Config

	// Channel holds the call-orchestration knobs shared by every call
	Channel retrycall.Config

	// Client is the configuration of the gRPC connection the probe runs on
	Client grpcconn.ClientConfig
}

// FileData carries one configuration source: its name for diagnostics and
// its TOML content.
type FileData struct {
	Name    string
	Content string
}

// Load loads the configuration from the files referenced by the cli context
func Load(ctx *cli.Context) (*Config, error) {
	configFilePaths := ctx.StringSlice(FlagCfg)
	filesData, err := readFiles(configFilePaths)
	if err != nil {
		return nil, fmt.Errorf("error reading files: Err:%w", err)
	}
	saveConfigPath := ctx.String(FlagSaveConfigPath)
	allowDeprecatedFields := ctx.Bool(FlagAllowDeprecatedFields)
	return LoadFile(filesData, saveConfigPath, allowDeprecatedFields)
}

func readFiles(files []string) ([]FileData, error) {
	result := make([]FileData, 0, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error reading file content: %s. Err:%w", file, err)
		}
		result = append(result, FileData{Name: file, Content: string(content)})
	}
	return result, nil
}

// LoadFileFromString loads the configuration from a TOML string on top of the
// defaults
func LoadFileFromString(configFileData string, configType string) (*Config, error) {
	cfg := &Config{}
	sources := []FileData{
		{Name: "default_values", Content: DefaultValues},
		{Name: "string_data", Content: configFileData},
	}
	err := loadSources(cfg, sources, configType, true, EnvVarPrefix)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func SaveConfigToFile(cfg *Config, saveConfigPath string) error {
	marshaled, err := toml.Marshal(cfg)
	if err != nil {
		log.Errorf("Can't marshal config to toml. Err: %w", err)
		return err
	}
	return SaveDataToFile(saveConfigPath, "final config file", marshaled)
}

func SaveDataToFile(fullPath, reason string, data []byte) error {
	log.Infof("Writing %s to: %s", reason, fullPath)
	err := os.WriteFile(fullPath, data, DefaultCreationFilePermissions)
	if err != nil {
		err = fmt.Errorf("error writing %s to file %s. Err: %w", reason, fullPath, err)
		log.Error(err)
		return err
	}
	return nil
}

// LoadFile loads the configuration: defaults first, then the given files in
// order, later sources overriding earlier ones, env vars on top
func LoadFile(files []FileData, saveConfigPath string, allowDeprecatedFields bool) (*Config, error) {
	log.Infof("Loading configuration: saveConfigPath: %s, allowDeprecatedFields: %t",
		saveConfigPath, allowDeprecatedFields)
	fileData := make([]FileData, 0, len(files)+1)
	fileData = append(fileData, FileData{Name: "default_values", Content: DefaultValues})
	fileData = append(fileData, files...)

	cfg := &Config{}
	err := loadSources(cfg, fileData, ConfigType, true, EnvVarPrefix)
	if err != nil && allowDeprecatedFields {
		var customErr *DeprecatedFieldsError
		if errors.As(err, &customErr) {
			log.Warnf("detected deprecated fields: %s", err.Error())
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}

	if saveConfigPath != "" {
		fullPath := filepath.Join(saveConfigPath, SaveConfigFileName)
		if err := SaveConfigToFile(cfg, fullPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadSources merges the given TOML sources into cfg
func loadSources(cfg *Config, sources []FileData, configType string,
	allowEnvVars bool, envPrefix string) error {
	viper.Reset()
	viper.SetConfigType(configType)
	if allowEnvVars {
		replacer := strings.NewReplacer(".", "_")
		viper.SetEnvKeyReplacer(replacer)
		viper.SetEnvPrefix(envPrefix)
		viper.AutomaticEnv()
	}
	for i, source := range sources {
		var err error
		if i == 0 {
			err = viper.ReadConfig(bytes.NewBufferString(source.Content))
		} else {
			err = viper.MergeConfig(bytes.NewBufferString(source.Content))
		}
		if err != nil {
			return fmt.Errorf("error loading config source %s: %w", source.Name, err)
		}
	}

	decodeHooks := []viper.DecoderConfigOption{
		// this allows arrays to be decoded from env var separated by ",", example: MY_VAR="value1,value2,value3"
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)),
	}

	if err := viper.Unmarshal(&cfg, decodeHooks...); err != nil {
		return err
	}
	return checkDeprecatedFields(viper.AllKeys())
}

func checkDeprecatedFields(keysOnConfig []string) error {
	err := NewErrDeprecatedFields()
	for _, key := range keysOnConfig {
		forbiddenInfo := getDeprecatedField(key)
		if forbiddenInfo != nil {
			err.AddDeprecatedField(key, *forbiddenInfo)
		}
	}
	if len(err.Fields) > 0 {
		return err
	}
	return nil
}

func getDeprecatedField(fieldName string) *DeprecatedField {
	for _, deprecatedField := range deprecatedFieldsOnConfig {
		if strings.EqualFold(deprecatedField.FieldNamePattern, fieldName) {
			return &deprecatedField
		}
		// If the field name ends with a dot, it means FieldNamePattern*
		if deprecatedField.FieldNamePattern[len(deprecatedField.FieldNamePattern)-1] == '.' &&
			strings.HasPrefix(strings.ToLower(fieldName), strings.ToLower(deprecatedField.FieldNamePattern)) {
			return &deprecatedField
		}
	}
	return nil
}
