// MKShare - software KVM switch
// Share one mouse and keyboard across machines over the network.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/orz-ai/mkshare/internal/agent"
	"github.com/orz-ai/mkshare/internal/api"
	"github.com/orz-ai/mkshare/internal/config"
	"github.com/orz-ai/mkshare/internal/controller"
	"github.com/orz-ai/mkshare/internal/input"
)

var (
	version   = "0.1.0"
	runServer = flag.Bool("server", false, "Run as the controlling device (owns mouse and keyboard)")
	runClient = flag.Bool("client", false, "Run as a controlled device (receives input)")
	cfgPath   = flag.String("config", "config.yaml", "Path to the configuration file")
	showVer   = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("mkshare version %s\n", version)
		return
	}

	cfgMgr := config.NewManager(*cfgPath)
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgMgr.Get()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "mkshare"
	}

	switch {
	case *runServer:
		runControllerService(cfg, hostname)
	case *runClient:
		runAgentService(cfg, hostname)
	default:
		fmt.Fprintln(os.Stderr, "Specify -server or -client")
		flag.Usage()
		os.Exit(2)
	}
}

func runControllerService(cfg *config.Config, hostname string) {
	log.Printf("MKShare controller starting (%s)", hostname)

	ctrl := controller.New(cfg, input.NewCapture(), input.Screens(), hostname)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(ctrl.Registry(), ctrl.Machine())
		ctrl.OnDeviceEvent = apiServer.NotifyDeviceEvent
		ctrl.OnFocusEvent = apiServer.NotifyFocusEvent
		go func() {
			if err := apiServer.Start(cfg.API.Port); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}

	waitForSignal()
	log.Println("Shutting down...")
	ctrl.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
}

func runAgentService(cfg *config.Config, hostname string) {
	log.Printf("MKShare agent starting (%s), controller at %s:%d",
		hostname, cfg.Network.Client.ServerHost, cfg.Network.Client.ServerPort)

	a := agent.New(cfg, input.NewReplayer(), input.Screens(), hostname, runtime.GOOS)
	a.Start()

	waitForSignal()
	log.Println("Shutting down...")
	a.Stop()
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
