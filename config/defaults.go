package config

import (
	"github.com/spf13/viper"

	"github.com/shelfsense/shelf-monitor/detections"
	"github.com/shelfsense/shelf-monitor/inference"
)

const (
	DefaultBaseURL       = "https://detect.roboflow.com"
	DefaultModelEndpoint = "retail-store-detection-cv-p6zlc/4"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.index_path", "index.html")
	v.SetDefault("server.images_dir", "images")
	v.SetDefault("server.max_upload_mb", 20)

	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.base_url", DefaultBaseURL)
	v.SetDefault("inference.model_endpoint", DefaultModelEndpoint)
	v.SetDefault("inference.confidence_default", 0.4)
	v.SetDefault("inference.overlap_default", 0.3)
	v.SetDefault("inference.timeout_seconds", inference.DefaultTimeout.Seconds())
	v.SetDefault("inference.upload_mode", inference.UploadBase64)
	v.SetDefault("inference.visualize", false)
	v.SetDefault("inference.max_concurrent", 8)
	v.SetDefault("inference.acquire_timeout_seconds", 5)

	v.SetDefault("report.severity_policy", detections.PolicyGraded)
	v.SetDefault("report.absence_keywords", detections.DefaultAbsenceKeywords)
	v.SetDefault("report.verify_image", true)
}
