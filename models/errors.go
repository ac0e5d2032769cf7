package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                    = errors.New("record not found")
	ErrDataAccess                  = errors.New("data access failed")
	ErrClassificationAmbiguity     = errors.New("classification ambiguity")
	ErrRepairUnresolved            = errors.New("no safe automatic repair")
	ErrOrchestrationPartialFailure = errors.New("some stores failed to sync")
	ErrClusterNotFound             = errors.New("cluster not found")
	ErrRuleNotFound                = errors.New("automation rule not found")
	ErrRuleRunning                 = errors.New("automation rule already running")
	ErrRuleInactive                = errors.New("automation rule is inactive")
	ErrRuleCoolingDown             = errors.New("automation rule is cooling down")
	ErrInvalidDefinition           = errors.New("invalid definition")
)

// DataAccessError wraps a failed repository call.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

func (e *DataAccessError) Is(target error) bool { return target == ErrDataAccess }

func NewDataAccessError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &DataAccessError{Op: op, Err: err}
}

// PartialFailureError describes a cluster run where some, but not all, stores failed.
type PartialFailureError struct {
	SyncId string
	Failed int
	Total  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("sync %s: %d of %d stores failed", e.SyncId, e.Failed, e.Total)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrOrchestrationPartialFailure }

// Err reports the run outcome as an error: nil when completed, a PartialFailureError otherwise.
func (s *CrossStoreSync) Err() error {
	if s == nil || s.Status == SyncStatusCompleted {
		return nil
	}
	return &PartialFailureError{SyncId: s.ID, Failed: s.Metrics.FailedStores, Total: len(s.PerStoreResults)}
}
