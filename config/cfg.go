package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	validator "github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"lectern/common"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	CacheConfig struct {
		Size         int           `yaml:"size" validate:"min=1"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	}

	ResolverConfig struct {
		InflightWait    time.Duration `yaml:"inflight_wait" validate:"gt=0"`
		MergeBudget     time.Duration `yaml:"merge_budget" validate:"gt=0"`
		PersistAttempts uint          `yaml:"persist_attempts" validate:"min=1"`
		PersistDelay    time.Duration `yaml:"persist_delay" validate:"gte=0"`
		PersistTimeout  time.Duration `yaml:"persist_timeout" validate:"gt=0"`
	}

	GateConfig struct {
		MinWidth  float64 `yaml:"min_width" validate:"gt=0"`
		MinHeight float64 `yaml:"min_height" validate:"gt=0"`
		Attempts  int     `yaml:"attempts" validate:"min=1"`
	}

	ViewportConfig struct {
		FrameInterval time.Duration `yaml:"frame_interval" validate:"gt=0"`
		Desktop       GateConfig    `yaml:"desktop"`
		Mobile        GateConfig    `yaml:"mobile"`
	}

	TargetConfig struct {
		AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	}

	ReadinessConfig struct {
		SoftCheck    time.Duration `yaml:"soft_check" validate:"gt=0"`
		Settle       time.Duration `yaml:"settle" validate:"gt=0"`
		FatalDesktop time.Duration `yaml:"fatal_desktop" validate:"gtfield=SoftCheck"`
		FatalMobile  time.Duration `yaml:"fatal_mobile" validate:"gtfield=SoftCheck"`
	}

	ProgressConfig struct {
		Debounce      time.Duration `yaml:"debounce" validate:"gt=0"`
		LocationChars int           `yaml:"location_chars" validate:"min=16"`
	}

	NavigationConfig struct {
		Cooldown        time.Duration `yaml:"cooldown" validate:"gt=0"`
		ResizeTolerance float64       `yaml:"resize_tolerance" validate:"gte=0"`
	}

	ThemeConfig struct {
		Name       string `yaml:"name" validate:"required"`
		Background string `yaml:"background" validate:"required"`
		Text       string `yaml:"text" validate:"required"`
		Link       string `yaml:"link" validate:"required"`
	}

	EngineConfig struct {
		Device       common.DeviceClass `yaml:"device"`
		Cache        CacheConfig        `yaml:"cache"`
		Resolver     ResolverConfig     `yaml:"resolver"`
		Viewport     ViewportConfig     `yaml:"viewport"`
		Target       TargetConfig       `yaml:"target"`
		Readiness    ReadinessConfig    `yaml:"readiness"`
		Progress     ProgressConfig     `yaml:"progress"`
		Navigation   NavigationConfig   `yaml:"navigation"`
		Themes       []ThemeConfig      `yaml:"themes" validate:"min=3,dive"`
		DefaultTheme string             `yaml:"default_theme" validate:"required"`
		FontSize     int                `yaml:"font_size" validate:"min=50,max=300"`
	}

	BackendConfig struct {
		URL       string        `yaml:"url,omitempty" validate:"omitempty,url"`
		Token     SecretString  `yaml:"token,omitempty"`
		Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
		AssetsDir string        `yaml:"assets_dir,omitempty"`
	}

	StorageConfig struct {
		Path string `yaml:"path" sanitize:"path_clean" validate:"required"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Engine    EngineConfig   `yaml:"engine"`
		Backend   BackendConfig  `yaml:"backend"`
		Storage   StorageConfig  `yaml:"storage"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

// Theme returns named theme, ok is false when theme is not configured.
func (e *EngineConfig) Theme(name string) (ThemeConfig, bool) {
	for _, t := range e.Themes {
		if t.Name == name {
			return t, true
		}
	}
	return ThemeConfig{}, false
}

// FatalBudget returns time readiness detection may take before the view is
// declared broken. Mobile devices get more time to tolerate slower networks.
func (r *ReadinessConfig) FatalBudget(device common.DeviceClass) time.Duration {
	if device.IsMobile() {
		return r.FatalMobile
	}
	return r.FatalDesktop
}

// Gate returns viewport gate thresholds for the device class.
func (v *ViewportConfig) Gate(device common.DeviceClass) GateConfig {
	if device.IsMobile() {
		return v.Mobile
	}
	return v.Desktop
}

// engineChecks verifies cross field constraints which validator tags cannot express.
func engineChecks(sl validator.StructLevel) {
	cfg, ok := sl.Current().Interface().(Config)
	if !ok {
		return
	}
	if !cfg.Engine.Device.IsValid() {
		sl.ReportError(cfg.Engine.Device, "Device", "Device", "device_class", cfg.Engine.Device.String())
	}
	if _, ok := cfg.Engine.Theme(cfg.Engine.DefaultTheme); !ok {
		sl.ReportError(cfg.Engine.DefaultTheme, "DefaultTheme", "DefaultTheme", "known_theme", "")
	}
	names := make(map[string]struct{}, len(cfg.Engine.Themes))
	for _, t := range cfg.Engine.Themes {
		if _, exists := names[t.Name]; exists {
			sl.ReportError(t.Name, "Themes", "Themes", "unique_theme", t.Name)
		}
		names[t.Name] = struct{}{}
	}
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg, gencfg.WithAdditionalChecks(engineChecks)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration tamplate to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
