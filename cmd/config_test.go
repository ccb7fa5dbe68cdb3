package cmd

import (
	"testing"

	"minidb/errs"
)

func TestBuildConfigDefaults(t *testing.T) {
	cachePages, checkpointInterval, lockTimeout, deadlockCheck, walSync = 256, "30s", "5s", "50ms", "commit"

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig failed: %s", err)
	}
	if cfg.CachePages != 256 {
		t.Errorf("CachePages = %d, want 256", cfg.CachePages)
	}
	if cfg.LockTimeout.String() != "5s" {
		t.Errorf("LockTimeout = %s, want 5s", cfg.LockTimeout)
	}
}

func TestBuildConfigRejectsBadWalSync(t *testing.T) {
	checkpointInterval, lockTimeout, deadlockCheck, walSync = "30s", "5s", "50ms", "sometimes"

	if _, err := buildConfig(); err == nil {
		t.Error("buildConfig with an invalid wal-sync value did not fail")
	}
	walSync = "commit"
}

func TestBuildConfigRejectsBadDuration(t *testing.T) {
	checkpointInterval, lockTimeout, deadlockCheck, walSync = "not-a-duration", "5s", "50ms", "commit"

	if _, err := buildConfig(); err == nil {
		t.Error("buildConfig with an invalid checkpoint-interval did not fail")
	}
	checkpointInterval = "30s"
}

func TestExitCodeForEngineError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.New(errs.KindParse, 1, "bad sql"), 1},
		{errs.New(errs.KindSchema, 1, "bad schema"), 1},
		{errs.New(errs.KindTxn, 1, "bad txn"), 1},
		{errs.New(errs.KindIndex, 1, "bad index"), 1},
		{errs.New(errs.KindStorage, 2, "io error"), 2},
		{errs.ErrNotFound, 2},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
