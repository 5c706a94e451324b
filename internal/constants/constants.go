package constants

const (
	// log attribute keys
	LOG_RUN_ID     = "run_id"
	LOG_STAGE      = "stage"
	LOG_PATH       = "path"
	LOG_ERROR      = "error"
	LOG_KIND       = "kind"
	LOG_DATASET    = "dataset"
	LOG_RUN_NAME   = "run_name"
	LOG_DATASOURCE = "datasource"

	// environment variables
	EnvVarConfigPath      = "CONFIG_PATH"
	EnvVarTerminationFile = "TERMINATION_FILE"
	EnvVarLogLevel        = "LOG_LEVEL"

	// well known file names
	DatasetManifestName = "data.yaml"
	PublishedBaseName   = "best"

	// default locations
	DefaultPublishDir      = "public/models"
	DefaultDatasetsDir     = "datasets"
	DefaultOutputModel     = "optimized_model.onnx"
	DefaultTerminationFile = "/dev/termination-log"

	// tracking run name of runs that start from an existing model
	DefaultRunName = "model_optimize"
)
