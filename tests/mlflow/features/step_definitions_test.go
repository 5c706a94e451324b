package features

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/mlflow"
	"github.com/model-forge/model-forge/pkg/api"
	"github.com/model-forge/model-forge/pkg/mlflowclient"
)

type testContext struct {
	client           *mlflowclient.Client
	tracker          *mlflow.Tracker
	experimentID     string
	experimentName   string
	runID            string
	lastError        error
	createdResources []resource
}

type resource struct {
	Type string
	ID   string
}

func (tc *testContext) reset() {
	tc.experimentID = ""
	tc.experimentName = ""
	tc.runID = ""
	tc.tracker = nil
	tc.lastError = nil
}

func (tc *testContext) cleanup() {
	// Clean up created resources in reverse order
	for i := len(tc.createdResources) - 1; i >= 0; i-- {
		resource := tc.createdResources[i]
		var err error
		switch resource.Type {
		case "experiment":
			err = tc.client.DeleteExperiment(resource.ID)
		case "run":
			err = tc.client.DeleteRun(resource.ID)
		}
		if err != nil {
			// only an attempt, the tests do not fail here
			debugLog("Error deleting %s %s: %s", resource.Type, resource.ID, err.Error())
		}
	}
	tc.createdResources = nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &testContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		tc.cleanup()
		return ctx, nil
	})

	ctx.Step(`^an MLflow server is running$`, tc.serverIsRunning)

	ctx.Step(`^I create an experiment with a unique name$`, tc.createUniqueExperiment)
	ctx.Step(`^the experiment should be created successfully$`, tc.experimentCreatedSuccessfully)
	ctx.Step(`^I get the experiment by name$`, tc.getExperimentByName)
	ctx.Step(`^I get the experiment by name "([^"]*)"$`, tc.getExperimentByGivenName)
	ctx.Step(`^the experiment should be returned$`, tc.experimentReturned)

	ctx.Step(`^a tracker for the experiment$`, tc.trackerForExperiment)
	ctx.Step(`^I track a run named "([^"]*)" with metrics$`, tc.trackRun)
	ctx.Step(`^I end the run as "([^"]*)"$`, tc.endRun)
	ctx.Step(`^the run should have the status "([^"]*)"$`, tc.runHasStatus)
	ctx.Step(`^the run should have the metric "([^"]*)"$`, tc.runHasMetric)

	ctx.Step(`^the response code should be (\d+)$`, tc.theResponseCodeShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.theResponseShouldContain)
}

func debugLog(format string, a ...any) {
	log.Println(fmt.Sprintf(format, a...))
}

func (tc *testContext) serverIsRunning() error {
	if tc.client != nil {
		return nil
	}
	testURL := os.Getenv("MLFLOW_TRACKING_URI")
	if testURL == "" {
		return fmt.Errorf("MLFLOW_TRACKING_URI is not set")
	}
	tc.client = mlflowclient.NewClient(testURL)
	return nil
}

func (tc *testContext) createUniqueExperiment() error {
	tc.experimentName = "model-forge-fvt-" + uuid.NewString()
	resp, err := tc.client.CreateExperiment(&mlflowclient.CreateExperimentRequest{Name: tc.experimentName})
	tc.lastError = err
	if err == nil {
		tc.experimentID = resp.ExperimentID
		tc.createdResources = append(tc.createdResources, resource{Type: "experiment", ID: resp.ExperimentID})
	}
	return nil
}

func (tc *testContext) experimentCreatedSuccessfully() error {
	if tc.lastError != nil {
		return fmt.Errorf("expected no error, got %w", tc.lastError)
	}
	if tc.experimentID == "" {
		return fmt.Errorf("expected an experiment id")
	}
	return nil
}

func (tc *testContext) getExperimentByName() error {
	return tc.getExperimentByGivenName(tc.experimentName)
}

func (tc *testContext) getExperimentByGivenName(name string) error {
	resp, err := tc.client.GetExperimentByName(name)
	tc.lastError = err
	if err == nil && resp.Experiment.ExperimentID != tc.experimentID {
		return fmt.Errorf("expected experiment %s, got %s", tc.experimentID, resp.Experiment.ExperimentID)
	}
	return nil
}

func (tc *testContext) experimentReturned() error {
	if tc.lastError != nil {
		return fmt.Errorf("expected no error, got %w", tc.lastError)
	}
	return nil
}

func (tc *testContext) trackerForExperiment() error {
	tc.tracker = mlflow.NewTrackerWithClient(tc.client, tc.experimentName, logging.FallbackLogger())
	return nil
}

func (tc *testContext) trackRun(runName string) error {
	ctx := context.Background()
	runID, err := tc.tracker.StartRun(ctx, runName, map[string]string{"source": "fvt"})
	if err != nil {
		return err
	}
	tc.runID = runID
	tc.createdResources = append(tc.createdResources, resource{Type: "run", ID: runID})
	if err := tc.tracker.LogParams(ctx, runID, map[string]string{"epochs": "1"}); err != nil {
		return err
	}
	metrics := &api.PerformanceMetrics{MAP50: 0.5, MAP50_95: 0.3, Precision: 0.6, Recall: 0.4}
	return tc.tracker.LogMetrics(ctx, runID, metrics.AsMap())
}

func (tc *testContext) endRun(status string) error {
	return tc.tracker.EndRun(context.Background(), tc.runID, api.Status(status))
}

func (tc *testContext) runHasStatus(status string) error {
	resp, err := tc.client.GetRun(tc.runID)
	if err != nil {
		return err
	}
	if string(resp.Run.Info.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, resp.Run.Info.Status)
	}
	return nil
}

func (tc *testContext) runHasMetric(key string) error {
	resp, err := tc.client.GetRun(tc.runID)
	if err != nil {
		return err
	}
	for _, metric := range resp.Run.Data.Metrics {
		if metric.Key == key {
			return nil
		}
	}
	return fmt.Errorf("metric %s not found in run %s", key, tc.runID)
}

func (tc *testContext) theResponseCodeShouldBe(code int) error {
	apiError := &mlflowclient.APIError{}
	if errors.As(tc.lastError, &apiError) {
		if apiError.StatusCode == code {
			return nil
		}
		return fmt.Errorf("expected response code to be %d, but actual is: %d.\nResponse:%s", code, apiError.StatusCode, apiError.ResponseBody)
	}
	return fmt.Errorf("expected the error to be an APIError")
}

func (tc *testContext) theResponseShouldContain(text string) error {
	if tc.lastError == nil {
		return fmt.Errorf("expected an error containing %s", text)
	}
	apiError := &mlflowclient.APIError{}
	if errors.As(tc.lastError, &apiError) && strings.Contains(apiError.ResponseBody, text) {
		return nil
	}
	if strings.Contains(tc.lastError.Error(), text) {
		return nil
	}
	return fmt.Errorf("expected the response to contain %s", text)
}
