package api

import "fmt"

// DatasetFormat represents the layout of a downloaded dataset
type DatasetFormat string

const (
	DatasetFormatDetectionYOLO DatasetFormat = "detection-yolo"
)

// GetDatasetFormat maps a provider export format (yolov5, yolov8, yolov11...) to the dataset layout.
func GetDatasetFormat(exportFormat string) (DatasetFormat, error) {
	switch exportFormat {
	case "yolov5", "yolov7", "yolov8", "yolov9", "yolov11", "yolo", string(DatasetFormatDetectionYOLO):
		return DatasetFormatDetectionYOLO, nil
	default:
		return DatasetFormat(exportFormat), fmt.Errorf("unsupported dataset format: %s", exportFormat)
	}
}

// DatasetRef identifies a dataset version at the provider
type DatasetRef struct {
	Workspace string `json:"workspace" mapstructure:"workspace" validate:"required"`
	Project   string `json:"project" mapstructure:"project" validate:"required"`
	Version   int    `json:"version" mapstructure:"version" validate:"gt=0"`
	Format    string `json:"format,omitempty" mapstructure:"format"`
}

func (r DatasetRef) String() string {
	return fmt.Sprintf("%s/%s/%d", r.Workspace, r.Project, r.Version)
}

// DatasetDescriptor is the local copy of a dataset, created by the acquisition stage.
type DatasetDescriptor struct {
	Location     string        `json:"location" validate:"required"`
	ManifestPath string        `json:"manifest_path" validate:"required"`
	Format       DatasetFormat `json:"format" validate:"required"`
	ClassCount   int           `json:"class_count" validate:"gt=0"`
	ClassNames   []string      `json:"class_names,omitempty"`
	// ValidationDir holds the images of the validation split, empty when none was found
	ValidationDir string `json:"validation_dir,omitempty"`
}
