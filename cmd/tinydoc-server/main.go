package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/replication"
	"github.com/pingcap-incubator/tinydoc/kv/server"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/storage/badger_storage"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.NewConfig()
	err := cfg.Parse(os.Args[1:])

	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	if cfg.ConfigCheck {
		for _, msg := range cfg.WarningMsgs {
			log.Warn(msg)
		}
		log.Info("config check successful")
		exit(0)
	}

	err = cfg.SetupLogger()
	if err == nil {
		log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	} else {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	// Flushing any buffered log entries
	defer log.Sync()

	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}
	log.Info("tinydoc config", zap.Stringer("config", cfg))

	st := newStorage(&cfg.Engine)
	if err = st.Start(); err != nil {
		log.Fatal("start storage failed", zap.Error(err))
	}
	engine := transaction.NewEngine(st)
	if err = replication.EnsureControlDatabase(context.Background(), engine); err != nil {
		log.Fatal("create replicator database failed", zap.Error(err))
	}

	replicator := replication.NewReplicator(engine, replication.NewCouchClient(&cfg.Replicator), &cfg.Replicator)
	svr := server.NewServer(cfg, engine, replicator)
	if err = svr.Start(); err != nil {
		log.Fatal("start http server failed", zap.Error(err))
	}
	if cfg.Replicator.Enable {
		if err = replicator.Start(); err != nil {
			log.Fatal("start replicator failed", zap.Error(err))
		}
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	var sig os.Signal
	go func() {
		sig = <-sc
		cancel()
	}()

	<-ctx.Done()
	log.Info("Got signal to exit", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err = svr.Stop(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	if cfg.Replicator.Enable {
		replicator.Stop()
	}
	if err = st.Stop(); err != nil {
		log.Error("stop storage failed", zap.Error(err))
	}

	switch sig {
	case syscall.SIGTERM:
		exit(0)
	default:
		exit(1)
	}
}

func newStorage(conf *config.Engine) storage.Storage {
	if conf.Storage == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on exit")
		return storage.NewMemStorage()
	}
	return badger_storage.NewBadgerStorage(conf)
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
