package metrics

import "codeberg.org/mutker/edgepilot/internal/errors"

const (
	ErrInvalidDBPath     = errors.ErrorCode("metrics_invalid_db_path")
	ErrStorageInit       = errors.ErrorCode("metrics_storage_init_failed")
	ErrStorageClose      = errors.ErrorCode("metrics_storage_close_failed")
	ErrTransactionFailed = errors.ErrorCode("metrics_transaction_failed")
)
