package api

// TrainingConfig is the fixed configuration of one training run. It is built once
// per pipeline run and not modified afterwards.
type TrainingConfig struct {
	DatasetLocation string     `json:"dataset_location" mapstructure:"dataset_location"`
	Epochs          int        `json:"epochs" mapstructure:"epochs" validate:"gt=0"`
	ImageSize       int        `json:"image_size" mapstructure:"image_size" validate:"gt=0"`
	BatchSize       int        `json:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	Device          DeviceKind `json:"device" mapstructure:"device" validate:"required,devicekind"`
	WorkerCount     int        `json:"worker_count" mapstructure:"worker_count" validate:"gte=0"`
	CacheEnabled    bool       `json:"cache_enabled" mapstructure:"cache_enabled"`
	MixedPrecision  bool       `json:"mixed_precision" mapstructure:"mixed_precision"`
	Patience        int        `json:"patience" mapstructure:"patience" validate:"gte=0"`
	RunName         string     `json:"run_name" mapstructure:"run_name" validate:"required"`
	BaseModel       string     `json:"base_model" mapstructure:"base_model" validate:"required"`
	ProjectDir      string     `json:"project_dir" mapstructure:"project_dir" validate:"required"`
}

// DefaultTrainingConfig returns the configuration the detector has always been trained with.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Epochs:         100,
		ImageSize:      640,
		BatchSize:      16,
		Device:         DeviceGPU,
		WorkerCount:    4,
		CacheEnabled:   true,
		MixedPrecision: true,
		Patience:       20,
		RunName:        "car_brand_detection",
		BaseModel:      "yolov8n.pt",
		ProjectDir:     "runs/detect",
	}
}

// WithDataset returns a copy bound to the dataset location.
func (c TrainingConfig) WithDataset(location string) TrainingConfig {
	c.DatasetLocation = location
	return c
}

// PerformanceMetrics are detection-quality metrics of a trained model.
type PerformanceMetrics struct {
	MAP50     float64 `json:"map50" validate:"gte=0,lte=1"`
	MAP50_95  float64 `json:"map50_95" validate:"gte=0,lte=1"`
	Precision float64 `json:"precision" validate:"gte=0,lte=1"`
	Recall    float64 `json:"recall" validate:"gte=0,lte=1"`
}

// AsMap returns the metrics keyed the way they are logged to tracking backends.
func (m *PerformanceMetrics) AsMap() map[string]float64 {
	return map[string]float64{
		"map50":     m.MAP50,
		"map50_95":  m.MAP50_95,
		"precision": m.Precision,
		"recall":    m.Recall,
	}
}
