package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type envBinding struct {
	ConfigKey string
	EnvVars   []string
}

// The unprefixed names match what hosting platforms and the Roboflow docs
// already export; everything else lives under SHELFSENSE_.
var envBindings = []envBinding{
	{"debug", []string{"SHELFSENSE_DEBUG", "DEBUG"}},
	{"server.host", []string{"SHELFSENSE_HOST", "HOST"}},
	{"server.port", []string{"SHELFSENSE_PORT", "PORT"}},
	{"server.index_path", []string{"SHELFSENSE_INDEX_PATH"}},
	{"server.images_dir", []string{"SHELFSENSE_IMAGES_DIR"}},
	{"server.max_upload_mb", []string{"SHELFSENSE_MAX_UPLOAD_MB"}},
	{"inference.api_key", []string{"SHELFSENSE_API_KEY", "ROBOFLOW_API_KEY"}},
	{"inference.base_url", []string{"SHELFSENSE_BASE_URL", "ROBOFLOW_BASE_URL"}},
	{"inference.model_endpoint", []string{"SHELFSENSE_MODEL_ENDPOINT", "MODEL_ENDPOINT"}},
	{"inference.confidence_default", []string{"SHELFSENSE_CONFIDENCE"}},
	{"inference.overlap_default", []string{"SHELFSENSE_OVERLAP"}},
	{"inference.timeout_seconds", []string{"SHELFSENSE_TIMEOUT_SECONDS"}},
	{"inference.upload_mode", []string{"SHELFSENSE_UPLOAD_MODE"}},
	{"inference.visualize", []string{"SHELFSENSE_VISUALIZE"}},
	{"inference.max_concurrent", []string{"SHELFSENSE_MAX_CONCURRENT"}},
	{"inference.acquire_timeout_seconds", []string{"SHELFSENSE_ACQUIRE_TIMEOUT_SECONDS"}},
	{"report.severity_policy", []string{"SHELFSENSE_SEVERITY_POLICY"}},
	{"report.absence_keywords", []string{"SHELFSENSE_ABSENCE_KEYWORDS"}},
	{"report.verify_image", []string{"SHELFSENSE_VERIFY_IMAGE"}},
}

func bindEnvVars(v *viper.Viper) error {
	var failed []string
	for _, b := range envBindings {
		args := append([]string{b.ConfigKey}, b.EnvVars...)
		if err := v.BindEnv(args...); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", b.ConfigKey, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(failed, "\n  - "))
	}
	return nil
}
