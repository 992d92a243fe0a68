package main

import (
	"context"
	"errors"
	"flag"
	"net"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/joseph-ayodele/docanalysis/internal/server"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var (
		cf   commonFlags
		addr string
	)
	cf.register(fs)
	fs.StringVar(&addr, "addr", "", "listen address (overrides GRPC_ADDR)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := cf.load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.GRPCAddr = addr
	}

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	exporter := a.exporter
	if a.jobs == nil {
		exporter = nil
	}
	svc := server.NewAnalysisService(a.analyzer, a.endpoint, exporter, logger)
	gs, hs := server.NewGRPCServer(svc, logger)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}
	logger.Info("docanalyze listening", "addr", lis.Addr().String(), "ledger", a.jobs != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hs.Shutdown()
		gs.GracefulStop()
		return nil
	})
	return g.Wait()
}
