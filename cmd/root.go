// Package cmd implements the CLI entrypoint: a single cobra command over
// an embedded Engine, running in one of three modes (--execute, --file,
// or an interactive REPL), with persistent flags layered over an HCL
// config file and environment overrides.
package cmd

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"

	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"minidb/engine/core"
	"minidb/repl"
	"minidb/sqlfront"
)

var (
	rootCmd = &cobra.Command{
		Use:               "minidb",
		Short:             "An educational single-node relational database engine",
		PersistentPreRunE: rootPreRun,
		PersistentPostRun: rootPostRun,
		RunE:              rootRun,
	}

	logFile   = ""
	logLevel  = "info"
	logStderr = true
	logWriter io.WriteCloser

	configFile = "minidb.hcl"
	noConfig   = false

	dataDir            = "./data"
	walSync            = "commit"
	cachePages         = 256
	checkpointInterval = "30s"
	lockTimeout        = "5s"
	deadlockCheck      = "50ms"

	execSQL    = ""
	scriptFile = ""

	cfgVars   = map[string]*pflag.Flag{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{DisableLevelTruncation: true})

	fs := rootCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging; empty logs to stderr")
	cfgVars["log-file"] = fs.Lookup("log-file")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	fs.StringVar(&dataDir, "data-dir", dataDir, "`directory` holding the catalog, table and WAL files")
	cfgVars["data-dir"] = fs.Lookup("data-dir")
	fs.StringVar(&walSync, "wal-sync", walSync, "WAL fsync policy: always, commit, or off (validated only; the WAL is fsynced at every commit)")
	cfgVars["wal-sync"] = fs.Lookup("wal-sync")
	fs.IntVar(&cachePages, "page-cache-pages", cachePages, "buffer pool size, in pages, per open file")
	cfgVars["page-cache-pages"] = fs.Lookup("page-cache-pages")
	fs.StringVar(&checkpointInterval, "checkpoint-interval", checkpointInterval,
		"how often to checkpoint and truncate the WAL")
	cfgVars["checkpoint-interval"] = fs.Lookup("checkpoint-interval")
	fs.StringVar(&lockTimeout, "lock-timeout", lockTimeout, "how long to wait for a contended lock")
	cfgVars["lock-timeout"] = fs.Lookup("lock-timeout")
	fs.StringVar(&deadlockCheck, "deadlock-check", deadlockCheck, "deadlock detector polling interval")
	cfgVars["deadlock-check"] = fs.Lookup("deadlock-check")

	fs.StringVarP(&execSQL, "execute", "e", execSQL, "run one `statement` and exit")
	fs.StringVarP(&scriptFile, "file", "f", scriptFile, "execute a `script` of statements and exit")
}

// Execute runs the command tree and returns a process exit code:
// 0 success, 1 SQL error, 2 IO/engine error, 130 interrupted.
func Execute() int {
	installInterruptHandler()
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(func(flg *pflag.Flag) {
		usedFlags[flg.Name] = struct{}{}
	})

	if configFile != "" && !noConfig {
		if err := loadConfig(); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("minidb: %s", err)
			}
		}
	}
	applyEnv()

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("minidb: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("minidb: %s", err)
	}
	log.SetLevel(ll)
	log.WithField("pid", os.Getpid()).Info("minidb starting")
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("minidb done")
	if logWriter != nil {
		logWriter.Close()
	}
}

func loadConfig() error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		return err
	}
	var cfg map[string]interface{}
	if err := hcl.Decode(&cfg, string(b)); err != nil {
		return err
	}
	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok || flg == nil {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if _, used := usedFlags[flg.Name]; used {
			continue
		}
		if err := flg.Value.Set(fmt.Sprintf("%v", val)); err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
	}
	return nil
}

// applyEnv applies MINIDB_DATA_DIR / MINIDB_WAL_SYNC over whatever the
// config file and flags already set, since environment variables are the
// outermost override in this project's precedence order (flags > config
// file > environment > defaults, except these two historically-
// environment-only settings win over the config file too).
func applyEnv() {
	if v := os.Getenv("MINIDB_DATA_DIR"); v != "" {
		if _, used := usedFlags["data-dir"]; !used {
			dataDir = v
		}
	}
	if v := os.Getenv("MINIDB_WAL_SYNC"); v != "" {
		if _, used := usedFlags["wal-sync"]; !used {
			walSync = v
		}
	}
}

func rootRun(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	eng, err := core.Open(dataDir, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	sess := sqlfront.NewSession(eng)

	switch {
	case execSQL != "":
		return repl.RunOne(sess, execSQL, os.Stdout)
	case scriptFile != "":
		f, err := os.Open(scriptFile)
		if err != nil {
			return err
		}
		defer f.Close()
		return repl.RunScript(sess, f, os.Stdout)
	default:
		return repl.Interact(sess)
	}
}

func installInterruptHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		os.Exit(130)
	}()
}
