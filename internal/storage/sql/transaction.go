package sql

import (
	"database/sql"
)

type TransactionFunction func(*sql.Tx) error

// withTransaction commits when fn succeeds and rolls back otherwise. The error
// of fn is returned unchanged.
func (s *SQLStorage) withTransaction(name string, runID string, fn TransactionFunction) error {
	txn, err := s.pool.BeginTx(s.ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "name", name, "run_id", runID, "error", err.Error())
		return newStorageErrorWithError(err, "begin transaction %s for run %s", name, runID)
	}
	fnErr := fn(txn)
	if fnErr == nil {
		if txnErr := txn.Commit(); txnErr != nil {
			s.logger.Error("Failed to commit transaction", "name", name, "run_id", runID, "error", txnErr.Error())
			return newStorageErrorWithError(txnErr, "commit transaction %s for run %s", name, runID)
		}
		return nil
	}
	if txnErr := txn.Rollback(); txnErr != nil {
		s.logger.Error("Failed to rollback transaction", "name", name, "run_id", runID, "error", txnErr.Error())
		return newStorageErrorWithError(txnErr, "rollback transaction %s for run %s", name, runID)
	}
	return fnErr
}
