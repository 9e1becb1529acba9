package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultProfile    = "default"
	DefaultBufferSize = 50000

	// MaxPortVolume is the top of the sound server's volume scale.
	MaxPortVolume = 65536

	inherited       = "inherited"
	profileSpecific = "profile-specific"
	builtIn         = "built-in"
)

type DefinitionsConfig struct {
	Ports []PortDefinition `mapstructure:"ports" yaml:"ports"`
}

type PortDefinition struct {
	ID        string  `mapstructure:"id" yaml:"id"`
	Name      string  `mapstructure:"name" yaml:"name"`
	Direction string  `mapstructure:"direction" yaml:"direction"` // "source", "target"
	Volume    float64 `mapstructure:"volume" yaml:"volume"`
}

type PortReference struct {
	Ref    string   `mapstructure:"ref" yaml:"ref"`
	Volume *float64 `mapstructure:"volume,omitempty" yaml:"volume,omitempty"`
}

type RootConfig struct {
	ActiveProfile string                     `mapstructure:"active_profile" yaml:"active_profile"`
	Definitions   *DefinitionsConfig         `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Profiles      map[string]*ProfileConfig `mapstructure:"profiles" yaml:"profiles"`
}

type ProfileConfig struct {
	Mixer  MixerConfig     `mapstructure:"mixer" yaml:"mixer"`
	Driver DriverConfig    `mapstructure:"driver" yaml:"driver"`
	Lines  LinesConfig     `mapstructure:"lines" yaml:"lines"`
	Ports  []PortReference `mapstructure:"ports" yaml:"ports"`
	Server ServerConfig    `mapstructure:"server" yaml:"server"`
}

// Config is a resolved profile, ready to build a driver and mixer from.
type Config struct {
	Profile string       `mapstructure:"-" yaml:"profile"`
	Mixer   MixerConfig  `mapstructure:"mixer" yaml:"mixer"`
	Driver  DriverConfig `mapstructure:"driver" yaml:"driver"`
	Lines   LinesConfig  `mapstructure:"lines" yaml:"lines"`
	Ports   []Port       `mapstructure:"ports" yaml:"ports"`
	Server  ServerConfig `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Mixer struct {
		Name        string
		Description string
	}
	Driver struct {
		Name       string
		Speed      string
		MaxStreams string
		SampleRate string
	}
	Lines struct {
		DefaultBufferSize string
		MaxBufferSize     string
	}
	Ports  map[string]string // port name -> "inherited" / "profile-specific"
	Server struct {
		Port string
	}
}

type MixerConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Vendor      string `mapstructure:"vendor" yaml:"vendor"`
	Description string `mapstructure:"description" yaml:"description"`
	Version     string `mapstructure:"version" yaml:"version"`
}

type DriverConfig struct {
	Name       string  `mapstructure:"name" yaml:"name"`             // "null", "oto", "pulse", "auto"
	Speed      float64 `mapstructure:"speed" yaml:"speed"`           // null driver render speed multiplier
	TickMs     int     `mapstructure:"tick_ms" yaml:"tick_ms"`       // null driver render period
	MaxStreams int     `mapstructure:"max_streams" yaml:"max_streams"` // 0 = unlimited
	SampleRate int     `mapstructure:"sample_rate" yaml:"sample_rate"` // oto context rate
	Channels   int     `mapstructure:"channels" yaml:"channels"`
}

type LinesConfig struct {
	DefaultBufferSize int `mapstructure:"default_buffer_size" yaml:"default_buffer_size"`
	MaxBufferSize     int `mapstructure:"max_buffer_size" yaml:"max_buffer_size"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// Port is a resolved hardware port the mixer exposes as a line.
type Port struct {
	Name      string  `mapstructure:"name" yaml:"name"`
	Direction string  `mapstructure:"direction" yaml:"direction"`
	Volume    float64 `mapstructure:"volume" yaml:"volume"`
}

// IsSource reports whether the port feeds audio into the mixer.
func (p Port) IsSource() bool {
	return p.Direction == "source"
}

var defaultConfig = Config{
	Mixer: MixerConfig{
		Name:        "Soundlines",
		Vendor:      "AudioLibreLab",
		Description: "Lines over the system sound server",
		Version:     "0.1.0",
	},
	Driver: DriverConfig{
		Name:       "auto",
		Speed:      1.0,
		TickMs:     10,
		SampleRate: 44100,
		Channels:   2,
	},
	Lines: LinesConfig{
		DefaultBufferSize: DefaultBufferSize,
		MaxBufferSize:     16 * DefaultBufferSize,
	},
	Ports: []Port{
		{Name: "MIC", Direction: "source", Volume: MaxPortVolume},
		{Name: "SPEAKER", Direction: "target", Volume: MaxPortVolume},
	},
	Server: ServerConfig{Port: 8089},
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	c := defaultConfig
	c.Profile = DefaultProfile
	c.Ports = append([]Port(nil), defaultConfig.Ports...)
	c.Inheritance = newInheritance(builtIn)
	for _, p := range c.Ports {
		c.Inheritance.Ports[p.Name] = builtIn
	}
	return &c
}

// DefaultPath returns the config location used when none is given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/soundlines.yaml")
}

// LoadOrDefault loads configFile, falling back to built-in defaults when the
// file is the default location and does not exist.
func LoadOrDefault(configFile, profile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return Default(), nil
		}
	}
	return LoadWithProfile(configFile, profile)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	profileName := profile
	if profileName == "" {
		profileName = rootConfig.ActiveProfile
	}
	if profileName == "" {
		profileName = DefaultProfile
	}

	selectedProfile, exists := rootConfig.Profiles[profileName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", profileName)
	}

	selected, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", profileName, err)
	}

	var base *Config
	if profileName != DefaultProfile {
		if defaultProfile, exists := rootConfig.Profiles[DefaultProfile]; exists {
			base, err = convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
		}
	}

	result := mergeConfigs(base, selected)
	applyBuiltins(result)
	result.Profile = profileName

	if err := validateConfig(result); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, newActiveProfile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	profiles := v.GetStringMap("profiles")
	if _, ok := profiles[newActiveProfile]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveProfile)
	}

	v.Set("active_profile", newActiveProfile)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// convertProfileToConfig converts a ProfileConfig to Config by resolving port references
func convertProfileToConfig(profile *ProfileConfig, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Mixer:  profile.Mixer,
		Driver: profile.Driver,
		Lines:  profile.Lines,
		Server: profile.Server,
	}

	for i, ref := range profile.Ports {
		if ref.Ref == "" {
			return nil, fmt.Errorf("ports[%d]: 'ref' is required", i)
		}

		def := findPortDefinition(definitions, ref.Ref)
		if def == nil {
			return nil, fmt.Errorf("ports[%d]: reference '%s' not found in definitions", i, ref.Ref)
		}

		port := Port{Name: def.Name, Direction: def.Direction, Volume: def.Volume}
		if ref.Volume != nil {
			port.Volume = *ref.Volume
		}
		config.Ports = append(config.Ports, port)
	}

	return config, nil
}

func findPortDefinition(definitions *DefinitionsConfig, id string) *PortDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Ports {
		if definitions.Ports[i].ID == id {
			return &definitions.Ports[i]
		}
	}
	return nil
}

func newInheritance(status string) *InheritanceInfo {
	info := &InheritanceInfo{Ports: make(map[string]string)}
	info.Mixer.Name = status
	info.Mixer.Description = status
	info.Driver.Name = status
	info.Driver.Speed = status
	info.Driver.MaxStreams = status
	info.Driver.SampleRate = status
	info.Lines.DefaultBufferSize = status
	info.Lines.MaxBufferSize = status
	info.Server.Port = status
	return info
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// - Ports: a profile listing ports uses exactly those; otherwise the default profile's ports
// - Every other field: profile value, or fallback to the default profile
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = newInheritance(builtIn)

	if base != nil {
		result.Mixer = base.Mixer
		result.Driver = base.Driver
		result.Lines = base.Lines
		result.Ports = append([]Port(nil), base.Ports...)
		result.Server = base.Server

		result.Inheritance = newInheritance(inherited)
		for _, p := range base.Ports {
			result.Inheritance.Ports[p.Name] = inherited
		}
	}

	if profile == nil {
		return result
	}

	if profile.Mixer.Name != "" {
		result.Mixer.Name = profile.Mixer.Name
		result.Inheritance.Mixer.Name = profileSpecific
	}
	if profile.Mixer.Vendor != "" {
		result.Mixer.Vendor = profile.Mixer.Vendor
	}
	if profile.Mixer.Description != "" {
		result.Mixer.Description = profile.Mixer.Description
		result.Inheritance.Mixer.Description = profileSpecific
	}
	if profile.Mixer.Version != "" {
		result.Mixer.Version = profile.Mixer.Version
	}

	if profile.Driver.Name != "" {
		result.Driver.Name = profile.Driver.Name
		result.Inheritance.Driver.Name = profileSpecific
	}
	if profile.Driver.Speed != 0 {
		result.Driver.Speed = profile.Driver.Speed
		result.Inheritance.Driver.Speed = profileSpecific
	}
	if profile.Driver.TickMs != 0 {
		result.Driver.TickMs = profile.Driver.TickMs
	}
	if profile.Driver.MaxStreams != 0 {
		result.Driver.MaxStreams = profile.Driver.MaxStreams
		result.Inheritance.Driver.MaxStreams = profileSpecific
	}
	if profile.Driver.SampleRate != 0 {
		result.Driver.SampleRate = profile.Driver.SampleRate
		result.Inheritance.Driver.SampleRate = profileSpecific
	}
	if profile.Driver.Channels != 0 {
		result.Driver.Channels = profile.Driver.Channels
	}

	if profile.Lines.DefaultBufferSize != 0 {
		result.Lines.DefaultBufferSize = profile.Lines.DefaultBufferSize
		result.Inheritance.Lines.DefaultBufferSize = profileSpecific
	}
	if profile.Lines.MaxBufferSize != 0 {
		result.Lines.MaxBufferSize = profile.Lines.MaxBufferSize
		result.Inheritance.Lines.MaxBufferSize = profileSpecific
	}

	if profile.Server.Port != 0 {
		result.Server.Port = profile.Server.Port
		result.Inheritance.Server.Port = profileSpecific
	}

	// PORTS: Selection & Fallback
	if len(profile.Ports) > 0 {
		result.Ports = make([]Port, 0, len(profile.Ports))
		result.Inheritance.Ports = make(map[string]string, len(profile.Ports))
		for _, p := range profile.Ports {
			result.Ports = append(result.Ports, p)
			result.Inheritance.Ports[p.Name] = profileSpecific
		}
	}

	return result
}

// applyBuiltins fills whatever neither the profile nor the default profile set.
func applyBuiltins(c *Config) {
	d := defaultConfig
	if c.Mixer.Name == "" {
		c.Mixer.Name = d.Mixer.Name
	}
	if c.Mixer.Vendor == "" {
		c.Mixer.Vendor = d.Mixer.Vendor
	}
	if c.Mixer.Description == "" {
		c.Mixer.Description = d.Mixer.Description
	}
	if c.Mixer.Version == "" {
		c.Mixer.Version = d.Mixer.Version
	}
	if c.Driver.Name == "" {
		c.Driver.Name = d.Driver.Name
	}
	if c.Driver.Speed == 0 {
		c.Driver.Speed = d.Driver.Speed
	}
	if c.Driver.TickMs == 0 {
		c.Driver.TickMs = d.Driver.TickMs
	}
	if c.Driver.SampleRate == 0 {
		c.Driver.SampleRate = d.Driver.SampleRate
	}
	if c.Driver.Channels == 0 {
		c.Driver.Channels = d.Driver.Channels
	}
	if c.Lines.DefaultBufferSize == 0 {
		c.Lines.DefaultBufferSize = d.Lines.DefaultBufferSize
	}
	if c.Lines.MaxBufferSize == 0 {
		c.Lines.MaxBufferSize = d.Lines.MaxBufferSize
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(expandPath(configFile))

	v.SetEnvPrefix("SOUNDLINES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Unmarshal drops profiles with no keys, so names come from the raw map.
	if !v.IsSet("profiles") {
		return nil, fmt.Errorf("profiles section is required")
	}
	if rootConfig.Profiles == nil {
		rootConfig.Profiles = make(map[string]*ProfileConfig)
	}
	for name := range v.GetStringMap("profiles") {
		if rootConfig.Profiles[name] == nil {
			rootConfig.Profiles[name] = &ProfileConfig{}
		}
	}
	if len(rootConfig.Profiles) == 0 {
		return nil, fmt.Errorf("profiles section is required")
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	for profileName, profile := range rootConfig.Profiles {
		if err := validatePortReferences(profile.Ports, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid profile '%s': %w", profileName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the definitions section; it is optional.
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}

	seenIDs := make(map[string]bool)
	seenNames := make(map[string]bool)

	for i, def := range definitions.Ports {
		prefix := fmt.Sprintf("definitions.ports[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if def.Name == "" {
			return fmt.Errorf("%s: 'name' is required", prefix)
		}
		if seenNames[def.Name] {
			return fmt.Errorf("%s: duplicate port name '%s'", prefix, def.Name)
		}
		seenNames[def.Name] = true

		if err := validateDirection(def.Direction); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if err := validateVolume(def.Volume); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}

	return nil
}

// validatePortReferences validates port references in a profile
func validatePortReferences(refs []PortReference, definitions *DefinitionsConfig) error {
	seen := make(map[string]bool)
	for i, ref := range refs {
		prefix := fmt.Sprintf("ports[%d]", i)

		if ref.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}
		if findPortDefinition(definitions, ref.Ref) == nil {
			return fmt.Errorf("%s: references undefined port definition '%s'", prefix, ref.Ref)
		}
		if seen[ref.Ref] {
			return fmt.Errorf("%s: port '%s' referenced twice", prefix, ref.Ref)
		}
		seen[ref.Ref] = true

		if ref.Volume != nil {
			if err := validateVolume(*ref.Volume); err != nil {
				return fmt.Errorf("%s: override %w", prefix, err)
			}
		}
	}

	return nil
}

func validateDirection(direction string) error {
	if direction != "source" && direction != "target" {
		return fmt.Errorf("'direction' must be 'source' or 'target', got: %s", direction)
	}
	return nil
}

func validateVolume(volume float64) error {
	if volume < 0 || volume > MaxPortVolume {
		return fmt.Errorf("volume must be within [0, %d], got: %.2f", MaxPortVolume, volume)
	}
	return nil
}

// validateConfig checks a fully resolved configuration
func validateConfig(c *Config) error {
	switch strings.ToLower(c.Driver.Name) {
	case "null", "oto", "pulse", "auto":
	default:
		return fmt.Errorf("driver.name must be 'null', 'oto', 'pulse' or 'auto', got: %s", c.Driver.Name)
	}
	if c.Driver.Speed < 0 {
		return fmt.Errorf("driver.speed must be > 0, got: %.2f", c.Driver.Speed)
	}
	if c.Driver.TickMs < 0 {
		return fmt.Errorf("driver.tick_ms must be > 0, got: %d", c.Driver.TickMs)
	}
	if c.Driver.MaxStreams < 0 {
		return fmt.Errorf("driver.max_streams must be >= 0, got: %d", c.Driver.MaxStreams)
	}
	if c.Driver.Channels < 0 || c.Driver.Channels > 2 {
		return fmt.Errorf("driver.channels must be 1 or 2, got: %d", c.Driver.Channels)
	}
	if c.Lines.DefaultBufferSize < 0 {
		return fmt.Errorf("lines.default_buffer_size must be > 0, got: %d", c.Lines.DefaultBufferSize)
	}
	if c.Lines.MaxBufferSize < c.Lines.DefaultBufferSize {
		return fmt.Errorf("lines.max_buffer_size (%d) must be >= default_buffer_size (%d)",
			c.Lines.MaxBufferSize, c.Lines.DefaultBufferSize)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within [1, 65535], got: %d", c.Server.Port)
	}

	seen := make(map[string]bool)
	for i, p := range c.Ports {
		if seen[p.Name] {
			return fmt.Errorf("ports[%d]: duplicate port name '%s'", i, p.Name)
		}
		seen[p.Name] = true
		if err := validateDirection(p.Direction); err != nil {
			return fmt.Errorf("ports[%d] '%s': %w", i, p.Name, err)
		}
		if err := validateVolume(p.Volume); err != nil {
			return fmt.Errorf("ports[%d] '%s': %w", i, p.Name, err)
		}
	}

	return nil
}
