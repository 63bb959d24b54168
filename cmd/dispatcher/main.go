// Copyright (C) The Streamworkers Authors. All rights reserved.

// Command dispatcher wires the allocator loop, the failover coordinator,
// and the management/metrics HTTP surface into a runnable process,
// mirroring lib/dispatchcloud's dispatcher setup/run/Close lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/streamworkers/dispatchcore/internal/adminapi"
	"github.com/streamworkers/dispatchcore/internal/allocator"
	"github.com/streamworkers/dispatchcore/internal/appstate"
	"github.com/streamworkers/dispatchcore/internal/broker"
	"github.com/streamworkers/dispatchcore/internal/config"
	"github.com/streamworkers/dispatchcore/internal/ctxlog"
	"github.com/streamworkers/dispatchcore/internal/failover"
	"github.com/streamworkers/dispatchcore/internal/jobmodel"
	"github.com/streamworkers/dispatchcore/internal/placement"
	"github.com/streamworkers/dispatchcore/internal/processor"
	"github.com/streamworkers/dispatchcore/internal/request"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		loaded, err := config.Load(f)
		f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	ctxlog.SetLevel(cfg.Log.Level)
	ctxlog.SetFormat(cfg.Log.Format)
	logger := ctxlog.FromContext(context.Background())

	if err := run(context.Background(), logger, cfg); err != nil {
		logger.WithError(err).Fatal("dispatcher exited with error")
	}
}

// run builds and starts the dispatch core, blocking until ctx is
// cancelled (SIGINT/SIGTERM) or a component fails fatally.
func run(ctx context.Context, logger logrus.FieldLogger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()

	// A real deployment supplies a Store backed by the actual
	// job-model/coordinator metadata service; this bootstrap uses an
	// empty in-memory placeholder so the process can start standalone.
	jobModel := jobmodel.NewInMemoryStore(nil, "")

	constraints := placement.Build(jobModel.Containers())
	reqState := request.NewState()
	appState := appstate.New(reg)
	failovers := failover.NewTable()

	cmdBuilder, err := broker.BuildCommandBuilder(cfg.CommandBuilder.Name, cfg.CommandBuilder.Config)
	if err != nil {
		return fmt.Errorf("building command builder: %w", err)
	}

	// A real deployment supplies a Broker adapter that talks the
	// actual cluster protocol; out of scope here.
	brk := noopBroker{logger: logger}

	// The coordinator is constructed before the allocator (the
	// allocator depends on it as a constraint-check collaborator), so
	// its own allocator handle is attached afterward via SetAllocator.
	coord := failover.New(
		ctx,
		logger.WithField("Component", "failover"),
		constraints,
		appState,
		reqState,
		failovers,
		jobModel,
		brk,
		nil,
		cfg.Allocator.ContainerCPUCores,
		cfg.Allocator.ContainerMemoryMB,
		time.Duration(cfg.Allocator.PreferredHostRetryDelay),
	)

	alloc := allocator.New(
		ctx,
		logger.WithField("Component", "allocator"),
		reqState,
		appState,
		coord,
		brk,
		jobModel,
		cmdBuilder,
		allocator.HostAwarePolicy{},
		time.Duration(cfg.Allocator.SleepInterval),
		time.Duration(cfg.Allocator.PreferredHostRetryDelay),
	)
	coord.SetAllocator(alloc)

	// Wire the broker's asynchronous outcomes back into the coordinator
	// and request state. This is the seam a real Broker implementation
	// drives from its own callback threads; noopBroker never calls it,
	// since it has nothing asynchronous to report.
	brk.Subscribe(&dispatcherEvents{reqState: reqState, coordinator: coord})

	mux := adminapi.Handler(logger, reg, reqState, failovers, appState, cfg.Admin.ManagementToken)
	srv := &http.Server{Addr: cfg.Admin.Listen, Handler: mux}

	sweepInterval := time.Duration(cfg.Allocator.FailoverRetention) / 4
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alloc.Run()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		retention := time.Duration(cfg.Allocator.FailoverRetention)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := coord.Sweep(retention); n > 0 {
					logger.WithField("Evicted", n).Debug("swept quiescent failover records")
				}
			}
		}
	})
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		logger.WithField("Listen", cfg.Admin.Listen).Info("starting management API")
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			<-errCh
			return nil
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		alloc.Stop()
		return nil
	})

	return g.Wait()
}

// noopBroker is a placeholder Broker used when no real cluster adapter is
// configured; every call is logged and treated as already-succeeded.
type noopBroker struct {
	logger logrus.FieldLogger
}

func (b noopBroker) Launch(_ context.Context, res *request.Resource, spec broker.LaunchSpec) error {
	b.logger.WithFields(logrus.Fields{"ResourceID": res.ID, "Spec": spec}).Warn("no broker configured; launch is a no-op")
	return nil
}

func (b noopBroker) Stop(_ context.Context, res *request.Resource) error {
	b.logger.WithField("ResourceID", res.ID).Warn("no broker configured; stop is a no-op")
	return nil
}

func (b noopBroker) Release(_ context.Context, res *request.Resource) error {
	b.logger.WithField("ResourceID", res.ID).Warn("no broker configured; release is a no-op")
	return nil
}

func (b noopBroker) Subscribe(broker.Events) {
	b.logger.Warn("no broker configured; registered event sink will never be invoked")
}

// dispatcherEvents adapts a Broker's asynchronous outcomes to the
// coordinator's entry points and request state, which is where a real
// Broker's callback threads ultimately need to land.
type dispatcherEvents struct {
	reqState    *request.State
	coordinator *failover.Coordinator
}

func (e *dispatcherEvents) OnResourceAllocated(res *request.Resource) {
	e.reqState.AddResource(res)
}

func (e *dispatcherEvents) OnContainerStopped(pid processor.ID, resourceID request.ResourceID, host request.Host, exitStatus broker.ExitStatus) {
	e.coordinator.HandleContainerStop(pid, resourceID, host, exitStatus)
}

func (e *dispatcherEvents) OnLaunchFailed(pid processor.ID, resourceID request.ResourceID) {
	e.coordinator.HandleContainerLaunchFail(pid, resourceID)
}

func (e *dispatcherEvents) OnResourceRequestExpired(req *request.Request, alternative *request.Resource) {
	e.coordinator.HandleExpiredResourceRequest(req.ProcessorID, req, alternative)
}
