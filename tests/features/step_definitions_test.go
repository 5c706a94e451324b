package features

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/cucumber/godog"

	"github.com/model-forge/model-forge/internal/app"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/graph"
	"github.com/model-forge/model-forge/internal/graph/graphtest"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/pipeline"
	"github.com/model-forge/model-forge/internal/storage"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/model-forge/model-forge/pkg/api"
)

// the configuration of every scenario, {{DIR}} is the scenario directory
const scenarioConfigTemplate = `
pipeline:
  termination_file: {{DIR}}/termination-log
optimization:
  quantize_min_elements: 16
  verify_with_runtime: true
benchmark:
  seed: 42
  input_shape: [1, 3, 32, 32]
database:
  driver: sqlite
  url: file:{{DIR}}/runs.db
metrics:
  enabled: true
`

// this is used for a scenario to ensure that scenarios do not overwrite
// data from other scenarios...
type scenarioConfig struct {
	scenarioName string
	dir          string
	conf         *config.Config
	model        string
	output       string
	quantize     bool
	benchmark    bool
	publishDir   string
	report       *api.PipelineReport
	body         *gabs.Container
}

func logDebug(format string, a ...any) {
	fmt.Printf(format, a...)
}

func (tc *scenarioConfig) setUp(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	tc.scenarioName = sc.Name
	dir, err := os.MkdirTemp("", "model-forge-features-")
	if err != nil {
		return ctx, err
	}
	tc.dir = dir
	content := strings.ReplaceAll(scenarioConfigTemplate, "{{DIR}}", dir)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		return ctx, err
	}
	tc.conf, err = config.LoadConfig(logging.DiscardLogger(), "0.0.1", "features", "", dir)
	if err != nil {
		return ctx, fmt.Errorf("failed to load the scenario config: %w", err)
	}
	return ctx, nil
}

func (tc *scenarioConfig) tearDown(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
	if tc.dir != "" {
		if err := os.RemoveAll(tc.dir); err != nil {
			logDebug("Failed to remove %s: %v\n", tc.dir, err)
		}
	}
	return ctx, nil
}

func (tc *scenarioConfig) path(name string) string {
	return filepath.Join(tc.dir, name)
}

func (tc *scenarioConfig) aDetectorModel(name string) error {
	return tc.aDetectorModelWithOpset(name, 17)
}

// opsets below 10 can not be quantized
func (tc *scenarioConfig) aDetectorModelWithOpset(name string, opset int64) error {
	tc.model = tc.path(name)
	return graph.Save(graphtest.NewDetector(opset), tc.model, 0o644)
}

func (tc *scenarioConfig) aMissingModel(name string) error {
	tc.model = tc.path(name)
	return nil
}

func (tc *scenarioConfig) quantizationIsRequested() error {
	tc.quantize = true
	return nil
}

func (tc *scenarioConfig) benchmarkingIsRequested() error {
	tc.benchmark = true
	return nil
}

func (tc *scenarioConfig) theModelIsPublishedTo(dir string) error {
	tc.publishDir = tc.path(dir)
	return nil
}

func (tc *scenarioConfig) iOptimizeTheModelTo(output string) error {
	tc.output = tc.path(output)
	logger := logging.DiscardLogger()
	validate, err := validation.NewValidator()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := app.New(ctx, logger, tc.conf, validate, app.Options{})
	if err != nil {
		return fmt.Errorf("failed to set up the pipeline: %w", err)
	}
	defer a.Close(ctx)

	plan := pipeline.OptimizePlan(tc.model, tc.output, tc.quantize, tc.benchmark, tc.publishDir)
	tc.report = a.Orchestrator().Run(ctx, plan)

	body, err := json.Marshal(tc.report)
	if err != nil {
		return err
	}
	tc.body, err = gabs.ParseJSON(body)
	return err
}

func (tc *scenarioConfig) theRunStatusShouldBe(status string) error {
	if got := tc.body.Path("status").Data(); got != status {
		return fmt.Errorf("expected status %s, got %v in %s", status, got, tc.body.String())
	}
	return nil
}

func (tc *scenarioConfig) theReportShouldContainWithValue(path string, value string) error {
	if !tc.body.ExistsP(path) {
		return fmt.Errorf("the report does not contain %s: %s", path, tc.body.String())
	}
	if got := fmt.Sprintf("%v", tc.body.Path(path).Data()); got != value {
		return fmt.Errorf("expected %s to be %s, got %s", path, value, got)
	}
	return nil
}

func (tc *scenarioConfig) theReportShouldNotContain(path string) error {
	if tc.body.ExistsP(path) {
		return fmt.Errorf("the report contains %s: %s", path, tc.body.String())
	}
	return nil
}

func (tc *scenarioConfig) theReportShouldHaveSizeReports(count int) error {
	reports, err := tc.body.ArrayCountP("size_reports")
	if err != nil {
		return fmt.Errorf("the report has no size reports: %w", err)
	}
	if reports != count {
		return fmt.Errorf("expected %d size reports, got %d", count, reports)
	}
	return nil
}

func (tc *scenarioConfig) theReductionShouldBeAtLeast(index int, percent string) error {
	minimum, err := strconv.ParseFloat(percent, 64)
	if err != nil {
		return err
	}
	value, ok := tc.body.Path(fmt.Sprintf("size_reports.%d.reduction_percent", index)).Data().(float64)
	if !ok {
		return fmt.Errorf("size report %d has no reduction: %s", index, tc.body.String())
	}
	if value < minimum {
		return fmt.Errorf("expected a reduction of at least %s%%, got %f", percent, value)
	}
	return nil
}

func (tc *scenarioConfig) theFileShouldExist(name string) error {
	if _, err := os.Stat(tc.path(name)); err != nil {
		return fmt.Errorf("expected %s to exist: %w", name, err)
	}
	return nil
}

func (tc *scenarioConfig) theFileShouldNotExist(name string) error {
	if _, err := os.Stat(tc.path(name)); !os.IsNotExist(err) {
		return fmt.Errorf("expected %s not to exist, got %v", name, err)
	}
	return nil
}

func (tc *scenarioConfig) theFileShouldBeACopyOf(name string, source string) error {
	a, err := os.ReadFile(tc.path(name))
	if err != nil {
		return err
	}
	b, err := os.ReadFile(tc.path(source))
	if err != nil {
		return err
	}
	if string(a) != string(b) {
		return fmt.Errorf("expected %s to be a copy of %s", name, source)
	}
	return nil
}

func (tc *scenarioConfig) storedRun() (*api.PipelineRunResource, error) {
	store, err := storage.NewStorage(tc.conf.Database, logging.DiscardLogger())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.GetRun(tc.report.RunID)
}

func (tc *scenarioConfig) theStoredRunShouldHaveStatus(status string) error {
	run, err := tc.storedRun()
	if err != nil {
		return err
	}
	if string(run.Status) != status {
		return fmt.Errorf("expected the stored run to be %s, got %s", status, run.Status)
	}
	return nil
}

func (tc *scenarioConfig) theStoredRunShouldHaveStageEvents(count int) error {
	run, err := tc.storedRun()
	if err != nil {
		return err
	}
	if len(run.Events) != count {
		return fmt.Errorf("expected the stored run to have %d stage events, got %d", count, len(run.Events))
	}
	return nil
}

func InitializeTestSuite(ctx *godog.TestSuiteContext) {
	ctx.BeforeSuite(func() {
		logDebug("Running the pipeline feature tests\n")
	})
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := new(scenarioConfig)

	ctx.Before(tc.setUp)
	ctx.After(tc.tearDown)

	ctx.Step(`^a detector model "([^"]*)"$`, tc.aDetectorModel)
	ctx.Step(`^a detector model "([^"]*)" with opset (\d+)$`, tc.aDetectorModelWithOpset)
	ctx.Step(`^a missing model "([^"]*)"$`, tc.aMissingModel)
	ctx.Step(`^quantization is requested$`, tc.quantizationIsRequested)
	ctx.Step(`^benchmarking is requested$`, tc.benchmarkingIsRequested)
	ctx.Step(`^the model is published to "([^"]*)"$`, tc.theModelIsPublishedTo)
	ctx.Step(`^I optimize the model to "([^"]*)"$`, tc.iOptimizeTheModelTo)
	ctx.Step(`^the run status should be "([^"]*)"$`, tc.theRunStatusShouldBe)
	ctx.Step(`^the report should contain "([^"]*)" with value "([^"]*)"$`, tc.theReportShouldContainWithValue)
	ctx.Step(`^the report should not contain "([^"]*)"$`, tc.theReportShouldNotContain)
	ctx.Step(`^the report should have (\d+) size reports?$`, tc.theReportShouldHaveSizeReports)
	ctx.Step(`^size report (\d+) should show a reduction of at least ([\d.]+)%$`, tc.theReductionShouldBeAtLeast)
	ctx.Step(`^the file "([^"]*)" should exist$`, tc.theFileShouldExist)
	ctx.Step(`^the file "([^"]*)" should not exist$`, tc.theFileShouldNotExist)
	ctx.Step(`^the file "([^"]*)" should be a copy of "([^"]*)"$`, tc.theFileShouldBeACopyOf)
	ctx.Step(`^the stored run should have status "([^"]*)"$`, tc.theStoredRunShouldHaveStatus)
	ctx.Step(`^the stored run should have (\d+) stage events?$`, tc.theStoredRunShouldHaveStageEvents)
}
