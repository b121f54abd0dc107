// The server command is the main entrypoint for running gatehouse. It takes
// care of initializing everything and serving client sessions until it is
// told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/dcrodman/gatehouse/internal"
	"github.com/dcrodman/gatehouse/internal/core"
)

var configFlag = flag.StringP("config", "c", "./", "Path to the directory containing the server config file")

func main() {
	flag.Parse()

	config, err := core.LoadConfig(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("using configuration directory:", *configFlag)

	// Change to the config directory so that any relative paths in the config
	// file will resolve.
	if err := os.Chdir(*configFlag); err != nil {
		fmt.Println("error changing to config directory:", err)
		os.Exit(1)
	}

	// Bind the Controller to one top-level server context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())

	controller := &internal.Controller{Config: config}

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c)

	// SIGHUP reloads the address lists without dropping anyone.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := controller.ReloadFilters(); err != nil {
				fmt.Println("error reloading address lists:", err)
			}
		}
	}()

	if err := controller.Start(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Println(err)
			os.Exit(1)
		}
	}
	fmt.Println("shut down")
}

func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(1)
}
