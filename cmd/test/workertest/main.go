package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-quaestor/pkg/admin"
	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/control"
	"github.com/core-tools/hsu-quaestor/pkg/loadreporting"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

type flagOptions struct {
	HostName     string   `long:"host" default:"localhost" description:"host name to listen on"`
	Port         int      `long:"port" description:"port to listen on, 0 for a free one"`
	ServiceNames []string `long:"service" default:"Worker" description:"service name to report health and load for (repeatable)"`
	Capacity     int      `long:"capacity" default:"4" description:"number of concurrent requests per service"`
	BusyWorkers  int      `long:"busy" description:"number of simulated requests kept running per service"`
	NotServing   bool     `long:"not-serving" description:"report NOT_SERVING for all services (debug feature)"`
	RunDuration  int      `long:"run-duration" description:"Duration in seconds to run the worker (debug feature)"`
	MemoryMB     int      `long:"memory-mb" description:"Memory in Megabytes to allocate (debug feature)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger, sync, err := logging.NewZapLogger(fmt.Sprintf("worker %d: ", opts.Port), logging.DefaultZapConfig())
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	logger.Infof("Running Workertest, opts: %+v...", opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", opts.RunDuration)
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var s []byte
	if opts.MemoryMB > 0 {
		logger.Infof("Using MEMORY MB of %d Megabytes", opts.MemoryMB)
		s = make([]byte, opts.MemoryMB*1024*1024)
	}
	for i := 0; i < len(s); i++ {
		s[i] = 0
	}

	server, err := control.NewServer(control.ServerOptions{HostName: opts.HostName, Port: opts.Port}, logger)
	if err != nil {
		logger.Errorf("Failed to create server: %v", err)
		os.Exit(1)
	}

	reporter := loadreporting.NewServer(logger)
	requests := admin.NewRequestAdmin(logger)
	api.RegisterLoadReportingServer(server.GRPC(), reporter)
	control.RegisterGRPCAdministrationHandler(server.GRPC(), admin.NewServer(requests, logger), logger)

	servingStatus := healthpb.HealthCheckResponse_SERVING
	if opts.NotServing {
		servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	server.Health().SetServingStatus("", servingStatus)

	for _, serviceName := range opts.ServiceNames {
		load := loadreporting.NewServiceLoad(opts.Capacity)
		if err := reporter.AllowMonitoring(serviceName, load); err != nil {
			logger.Errorf("Failed to monitor service %s: %v", serviceName, err)
			os.Exit(1)
		}
		server.Health().SetServingStatus(serviceName, servingStatus)

		for i := 0; i < opts.BusyWorkers; i++ {
			go simulateRequests(ctx, requests, load, fmt.Sprintf("user%d", i), serviceName)
		}
	}

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	if err := server.Start(); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
	logger.Infof("Workertest is fully operational on port %d", server.Port())

	select {
	case receivedSignal := <-sig:
		logger.Infof("Workertest received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Workertest timed out")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	server.Stop(stopCtx)

	logger.Infof("Workertest stopped")
}

// simulateRequests keeps one cancellable request running at a time
func simulateRequests(ctx context.Context, requests *admin.RequestAdmin, load *loadreporting.ServiceLoad, userName, environment string) {
	for ctx.Err() == nil {
		requestCtx, request := requests.RegisterRequest(ctx, userName, environment)
		_ = load.Track(func() error {
			select {
			case <-requestCtx.Done():
				return requestCtx.Err()
			case <-time.After(time.Duration(500+rand.Intn(1500)) * time.Millisecond):
				return nil
			}
		})
		requests.UnregisterRequest(request)
	}
}
