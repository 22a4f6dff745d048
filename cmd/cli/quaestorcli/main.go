package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-quaestor/pkg/control"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

type connectionOptions struct {
	HostName          string `long:"host" default:"localhost" description:"host of the server to call"`
	Port              int    `long:"port" default:"5150" description:"port of the server to call"`
	UseTLS            bool   `long:"tls" description:"connect using TLS"`
	ClientCertificate string `long:"client-cert" description:"client certificate for mutual TLS"`
	ClientKey         string `long:"client-key" description:"client private key for mutual TLS"`
	RootCertificates  string `long:"root-certs" description:"PEM bundle replacing the system roots"`
	Timeout           int    `long:"timeout" default:"10" description:"call timeout in seconds"`
	Verbose           bool   `long:"verbose" short:"v" description:"debug logging"`
}

type discoverOptions struct {
	MaxCount int `long:"max-count" short:"n" default:"1" description:"maximum number of locations, 0 for all"`
	Args     struct {
		ServiceName string `positional-arg-name:"service" required:"true"`
	} `positional-args:"yes"`
}

type cancelOptions struct {
	UserName    string `long:"user" required:"true" description:"user whose requests are cancelled"`
	Environment string `long:"environment" required:"true" description:"environment of the requests"`
}

type flagOptions struct {
	connectionOptions
	Discover    discoverOptions `command:"discover" description:"find healthy locations of a service"`
	DiscoverTop discoverOptions `command:"discover-top" description:"find the least loaded locations of a service"`
	Cancel      cancelOptions   `command:"cancel" description:"cancel the requests of a user in a worker"`
	CancelAll   struct{}        `command:"cancel-all" description:"cancel all requests in a worker"`
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

	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = level
	zapConfig.Output = "stderr"
	logger, sync, err := logging.NewZapLogger("quaestor-client: ", zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	conn, err := transport.Dial(opts.HostName, opts.Port, transport.ClientTLS{
		UseTLS:            opts.UseTLS,
		ClientCertificate: opts.ClientCertificate,
		ClientKey:         opts.ClientKey,
		RootCertificates:  opts.RootCertificates,
	})
	if err != nil {
		logger.Errorf("Failed to create connection: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	defer cancel()

	retryOptions := control.RetryOptions{
		RetryAttempts: 3,
		RetryInterval: 1 * time.Second,
	}
	if err := control.WaitUntilServing(ctx, conn, retryOptions, logger); err != nil {
		logger.Errorf("Server at %s is not serving: %v", transport.Address(opts.HostName, opts.Port), err)
		os.Exit(1)
	}

	switch parser.Active.Name {
	case "discover":
		gateway := control.NewGRPCDiscoveryGateway(conn, logger)
		locations, err := gateway.DiscoverServices(ctx, opts.Discover.Args.ServiceName, opts.Discover.MaxCount)
		exitOnError(logger, err)
		printLocations(locations)

	case "discover-top":
		gateway := control.NewGRPCDiscoveryGateway(conn, logger)
		locations, err := gateway.DiscoverTopServices(ctx, opts.DiscoverTop.Args.ServiceName, opts.DiscoverTop.MaxCount)
		exitOnError(logger, err)
		printLocations(locations)

	case "cancel":
		gateway := control.NewGRPCAdministrationGateway(conn, logger)
		cancelled, err := gateway.Cancel(ctx, opts.Cancel.UserName, opts.Cancel.Environment)
		exitOnError(logger, err)
		fmt.Printf("Cancelled: %t\n", cancelled)

	case "cancel-all":
		gateway := control.NewGRPCAdministrationGateway(conn, logger)
		cancelled, err := gateway.CancelAll(ctx)
		exitOnError(logger, err)
		fmt.Printf("Cancelled: %t\n", cancelled)
	}
}

func exitOnError(logger logging.Logger, err error) {
	if err == nil {
		return
	}
	logger.Errorf("Call failed: %v", err)
	os.Exit(1)
}

func printLocations(locations []registry.ServiceLocation) {
	if len(locations) == 0 {
		fmt.Println("No service location found")
		return
	}
	for _, location := range locations {
		fmt.Printf("%s\t%s\n", transport.Address(location.HostName, location.Port), location)
	}
}
