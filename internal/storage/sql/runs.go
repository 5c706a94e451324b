package sql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/pkg/api"
)

// runEntity is the part of a run stored in the entity column
type runEntity struct {
	Plan          *api.Plan               `json:"plan,omitempty"`
	Failure       *api.FailureInfo        `json:"failure,omitempty"`
	FinalArtifact *api.Artifact           `json:"final_artifact,omitempty"`
	PublishedPath string                  `json:"published_path,omitempty"`
	Metrics       *api.PerformanceMetrics `json:"metrics,omitempty"`
	SizeReports   []api.SizeReport        `json:"size_reports,omitempty"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateRun stores a new run in the running status
func (s *SQLStorage) CreateRun(runID string, plan *api.Plan) (*api.PipelineRunResource, error) {
	entityJSON, err := json.Marshal(&runEntity{Plan: plan})
	if err != nil {
		return nil, newStorageErrorWithError(err, "failed to marshal run %s", runID)
	}
	addRunStatement, err := createAddRunStatement(s.config.Driver)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Creating pipeline run", "run_id", runID, "status", api.StatusRunning)
	if _, err := s.exec(addRunStatement, runID, string(api.StatusRunning), string(api.StageIdle), string(entityJSON)); err != nil {
		s.logger.Error("Failed to create pipeline run", "error", err, "run_id", runID)
		return nil, newStorageErrorWithError(err, "failed to create run %s", runID)
	}
	now := time.Now()
	return &api.PipelineRunResource{
		Resource: api.Resource{
			ID:        runID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Status: api.StatusRunning,
		Stage:  api.StageIdle,
		Plan:   plan,
	}, nil
}

// RecordStage appends a stage event and moves the run cursor to the event stage
func (s *SQLStorage) RecordStage(runID string, event *api.StageEvent) error {
	addEventStatement, err := createAddEventStatement(s.config.Driver)
	if err != nil {
		return err
	}
	updateQuery, updateArgs, err := createUpdateRunStatement(s.config.Driver, runID, "", string(event.Stage), "")
	if err != nil {
		return err
	}
	return s.withTransaction("record stage", runID, func(txn *sql.Tx) error {
		result, err := txn.ExecContext(s.ctx, updateQuery, updateArgs...)
		if err != nil {
			s.logger.Error("Failed to update pipeline run stage", "error", err, "run_id", runID, "stage", event.Stage)
			return newStorageErrorWithError(err, "failed to update stage of run %s", runID)
		}
		if err := checkRowsAffected(result, runID); err != nil {
			return err
		}
		if _, err := txn.ExecContext(s.ctx, addEventStatement, runID, string(event.Stage), string(event.Outcome), event.Message); err != nil {
			s.logger.Error("Failed to record stage event", "error", err, "run_id", runID, "stage", event.Stage)
			return newStorageErrorWithError(err, "failed to record stage event of run %s", runID)
		}
		return nil
	})
}

// CompleteRun stores the final report of a run
func (s *SQLStorage) CompleteRun(runID string, report *api.PipelineReport) error {
	selectQuery, err := createGetRunStatement(s.config.Driver)
	if err != nil {
		return err
	}
	stage := api.StageDone
	if report.Status == api.StatusFailed {
		stage = api.StageFailed
	}
	return s.withTransaction("complete run", runID, func(txn *sql.Tx) error {
		resource, err := s.scanRun(txn.QueryRowContext(s.ctx, selectQuery, runID), runID)
		if err != nil {
			return err
		}
		entityJSON, err := json.Marshal(&runEntity{
			Plan:          resource.Plan,
			Failure:       report.Failure,
			FinalArtifact: report.FinalArtifact,
			PublishedPath: report.PublishedPath,
			Metrics:       report.Metrics,
			SizeReports:   report.SizeReports,
		})
		if err != nil {
			return newStorageErrorWithError(err, "failed to marshal run %s", runID)
		}
		updateQuery, updateArgs, err := createUpdateRunStatement(s.config.Driver, runID, string(report.Status), string(stage), string(entityJSON))
		if err != nil {
			return err
		}
		result, err := txn.ExecContext(s.ctx, updateQuery, updateArgs...)
		if err != nil {
			s.logger.Error("Failed to complete pipeline run", "error", err, "run_id", runID)
			return newStorageErrorWithError(err, "failed to complete run %s", runID)
		}
		if err := checkRowsAffected(result, runID); err != nil {
			return err
		}
		s.logger.Info("Completed pipeline run", "run_id", runID, "status", report.Status)
		return nil
	})
}

// GetRun returns a run with its stage events
func (s *SQLStorage) GetRun(runID string) (*api.PipelineRunResource, error) {
	selectQuery, err := createGetRunStatement(s.config.Driver)
	if err != nil {
		return nil, err
	}
	resource, err := s.scanRun(s.pool.QueryRowContext(s.ctx, selectQuery, runID), runID)
	if err != nil {
		return nil, err
	}
	events, err := s.getEvents(runID)
	if err != nil {
		return nil, err
	}
	resource.Events = events
	return resource, nil
}

// GetRuns returns a page of runs, newest first. Events are not loaded.
func (s *SQLStorage) GetRuns(limit int, offset int, statusFilter string) (*abstractions.QueryResults[api.PipelineRunResource], error) {
	countQuery, countArgs, err := createCountRunsStatement(s.config.Driver, statusFilter)
	if err != nil {
		return nil, err
	}
	var totalCount int
	if err := s.pool.QueryRowContext(s.ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		s.logger.Error("Failed to count pipeline runs", "error", err)
		return nil, newStorageErrorWithError(err, "failed to count runs")
	}

	listQuery, listArgs, err := createListRunsStatement(s.config.Driver, limit, offset, statusFilter)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.QueryContext(s.ctx, listQuery, listArgs...)
	if err != nil {
		s.logger.Error("Failed to list pipeline runs", "error", err)
		return nil, newStorageErrorWithError(err, "failed to list runs")
	}
	defer rows.Close()

	items := []api.PipelineRunResource{}
	for rows.Next() {
		resource, err := s.scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		items = append(items, *resource)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Error iterating pipeline run rows", "error", err)
		return nil, newStorageErrorWithError(err, "error iterating run rows")
	}

	return &abstractions.QueryResults[api.PipelineRunResource]{
		Items:       items,
		TotalStored: totalCount,
	}, nil
}

func (s *SQLStorage) scanRun(row rowScanner, runID string) (*api.PipelineRunResource, error) {
	var dbID string
	var createdAt, updatedAt time.Time
	var statusStr, stageStr, entityJSON string

	if err := row.Scan(&dbID, &createdAt, &updatedAt, &statusStr, &stageStr, &entityJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newNotFoundError("run with id '%s' not found", runID)
		}
		s.logger.Error("Failed to scan pipeline run", "error", err, "run_id", runID)
		return nil, newStorageErrorWithError(err, "failed to read run %s", runID)
	}

	var entity runEntity
	if err := json.Unmarshal([]byte(entityJSON), &entity); err != nil {
		s.logger.Error("Failed to unmarshal pipeline run entity", "error", err, "run_id", dbID)
		return nil, newStorageErrorWithError(err, "failed to unmarshal run %s", dbID)
	}

	status, err := api.GetStatus(statusStr)
	if err != nil {
		return nil, newStorageErrorWithError(err, "run %s has an invalid status", dbID)
	}

	return &api.PipelineRunResource{
		Resource: api.Resource{
			ID:        dbID,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		Status:        status,
		Stage:         api.Stage(stageStr),
		Plan:          entity.Plan,
		Failure:       entity.Failure,
		FinalArtifact: entity.FinalArtifact,
		PublishedPath: entity.PublishedPath,
		Metrics:       entity.Metrics,
		SizeReports:   entity.SizeReports,
	}, nil
}

func (s *SQLStorage) getEvents(runID string) ([]api.StageEvent, error) {
	query, err := createListEventsStatement(s.config.Driver)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.QueryContext(s.ctx, query, runID)
	if err != nil {
		s.logger.Error("Failed to list stage events", "error", err, "run_id", runID)
		return nil, newStorageErrorWithError(err, "failed to list stage events of run %s", runID)
	}
	defer rows.Close()

	var events []api.StageEvent
	for rows.Next() {
		var stage, outcome, message string
		var createdAt time.Time
		if err := rows.Scan(&stage, &outcome, &message, &createdAt); err != nil {
			return nil, newStorageErrorWithError(err, "failed to scan stage event of run %s", runID)
		}
		events = append(events, api.StageEvent{
			Stage:     api.Stage(stage),
			Outcome:   api.StageOutcome(outcome),
			Message:   message,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageErrorWithError(err, "error iterating stage events of run %s", runID)
	}
	return events, nil
}

func checkRowsAffected(result sql.Result, runID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return newStorageErrorWithError(err, "failed to get rows affected for run %s", runID)
	}
	if rowsAffected == 0 {
		return newNotFoundError("run with id '%s' not found", runID)
	}
	return nil
}
