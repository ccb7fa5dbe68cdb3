package cmd

import (
	"fmt"
	"time"

	"minidb/engine/core"
	"minidb/errs"
)

// buildConfig turns the root command's flags (already resolved against
// any config file and environment override in rootPreRun) into an
// engine.Config.
func buildConfig() (core.Config, error) {
	ckpt, err := time.ParseDuration(checkpointInterval)
	if err != nil {
		return core.Config{}, fmt.Errorf("minidb: checkpoint-interval: %s", err)
	}
	lockT, err := time.ParseDuration(lockTimeout)
	if err != nil {
		return core.Config{}, fmt.Errorf("minidb: lock-timeout: %s", err)
	}
	deadlockT, err := time.ParseDuration(deadlockCheck)
	if err != nil {
		return core.Config{}, fmt.Errorf("minidb: deadlock-check: %s", err)
	}
	switch walSync {
	case "always", "commit", "off":
	default:
		return core.Config{}, fmt.Errorf("minidb: wal-sync must be always, commit, or off, got %q", walSync)
	}
	return core.Config{
		CachePages:         cachePages,
		LockTimeout:        lockT,
		DeadlockCheck:      deadlockT,
		CheckpointInterval: ckpt,
	}, nil
}

// exitCodeFor maps a returned error to a process exit code: 1 for an
// error in the SQL itself, 2 for everything else (I/O, engine, or
// configuration failures).
func exitCodeFor(err error) int {
	if ee, ok := err.(*errs.EngineError); ok {
		switch ee.Kind {
		case errs.KindParse, errs.KindSchema, errs.KindTxn, errs.KindIndex:
			return 1
		}
	}
	return 2
}
