// Package config loads ShelfSense settings from flags, environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shelfsense/shelf-monitor/detections"
	"github.com/shelfsense/shelf-monitor/inference"
)

type Settings struct {
	Debug     bool              `mapstructure:"debug"`
	Server    ServerSettings    `mapstructure:"server"`
	Inference InferenceSettings `mapstructure:"inference"`
	Report    ReportSettings    `mapstructure:"report"`
}

type ServerSettings struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	IndexPath   string `mapstructure:"index_path"`
	ImagesDir   string `mapstructure:"images_dir"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

type InferenceSettings struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	ModelEndpoint     string  `mapstructure:"model_endpoint"`
	ConfidenceDefault float64 `mapstructure:"confidence_default"`
	OverlapDefault    float64 `mapstructure:"overlap_default"`
	TimeoutSeconds    float64 `mapstructure:"timeout_seconds"`
	UploadMode        string  `mapstructure:"upload_mode"`
	Visualize         bool    `mapstructure:"visualize"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
	AcquireSeconds    float64 `mapstructure:"acquire_timeout_seconds"`
}

type ReportSettings struct {
	SeverityPolicy  string   `mapstructure:"severity_policy"`
	AbsenceKeywords []string `mapstructure:"absence_keywords"`
	VerifyImage     bool     `mapstructure:"verify_image"`
}

func (s *InferenceSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

func (s *InferenceSettings) AcquireTimeout() time.Duration {
	return time.Duration(s.AcquireSeconds * float64(time.Second))
}

func (s *ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerSettings) MaxUploadBytes() int64 {
	return s.MaxUploadMB << 20
}

// ClientOptions maps the inference settings onto the API client.
func (s *Settings) ClientOptions() inference.Options {
	return inference.Options{
		APIKey:        s.Inference.APIKey,
		BaseURL:       s.Inference.BaseURL,
		ModelEndpoint: s.Inference.ModelEndpoint,
		Overlap:       s.Inference.OverlapDefault,
		Timeout:       s.Inference.Timeout(),
		UploadMode:    s.Inference.UploadMode,
		Visualize:     s.Inference.Visualize,
	}
}

// Load reads settings into a fresh struct. An empty configFile skips the
// file source.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	setDefaults(v)

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	settings.Report.AbsenceKeywords = splitKeywords(settings.Report.AbsenceKeywords)

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// splitKeywords flattens comma-joined entries, as produced by env vars.
func splitKeywords(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, k := range strings.Split(entry, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

func (s *Settings) Validate() error {
	var errs []error

	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Server.Port))
	}
	if s.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive, got %d", s.Server.MaxUploadMB))
	}

	in := s.Inference
	if in.BaseURL == "" {
		errs = append(errs, errors.New("inference.base_url must not be empty"))
	}
	if in.ModelEndpoint == "" {
		errs = append(errs, errors.New("inference.model_endpoint must not be empty"))
	}
	if in.ConfidenceDefault < 0 || in.ConfidenceDefault > 1 {
		errs = append(errs, fmt.Errorf("inference.confidence_default must be between 0 and 1, got %g", in.ConfidenceDefault))
	}
	if in.OverlapDefault < 0 || in.OverlapDefault > 1 {
		errs = append(errs, fmt.Errorf("inference.overlap_default must be between 0 and 1, got %g", in.OverlapDefault))
	}
	if in.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("inference.timeout_seconds must be positive, got %g", in.TimeoutSeconds))
	}
	if in.AcquireSeconds <= 0 {
		errs = append(errs, fmt.Errorf("inference.acquire_timeout_seconds must be positive, got %g", in.AcquireSeconds))
	}
	if in.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("inference.max_concurrent must be positive, got %d", in.MaxConcurrent))
	}
	switch in.UploadMode {
	case inference.UploadBase64, inference.UploadMultipart:
	default:
		errs = append(errs, fmt.Errorf("inference.upload_mode must be %q or %q, got %q",
			inference.UploadBase64, inference.UploadMultipart, in.UploadMode))
	}

	if _, err := detections.ParseSeverityPolicy(s.Report.SeverityPolicy); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
