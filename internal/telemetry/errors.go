package telemetry

import "codeberg.org/lfilab/lfictl/internal/errors"

const (
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")
	ErrStorageInit   = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageClose  = errors.ErrorCode("telemetry_storage_close_failed")
)
