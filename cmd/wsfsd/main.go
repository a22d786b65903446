// Command wsfsd runs as the WebSocketFS server daemon for a specified
// virtual root.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/qbane/websocketfs/pkg/config"
	"github.com/qbane/websocketfs/pkg/metrics"
	"github.com/qbane/websocketfs/pkg/sftpd"
)

func init() {
	// change glog default destination to stderr
	if glog.V(0) { // should always be true, mention glog so it defines its flags before we change them
		if err := flag.CommandLine.Set("logtostderr", "true"); nil != err {
			log.Printf("Failed changing glog default destination, err: %s", err)
		}
	}
}

var (
	listenAddr    string
	configPath    string
	metricsListen string
)

func init() {
	flag.StringVar(&listenAddr, "listen", "", "`addr` the WebSocket service listens on, overrides the config file")
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config file")
	flag.StringVar(&metricsListen, "metrics", "", "`addr` to serve Prometheus metrics on, disabled when empty")
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
This is WebSocketFS Server, all options:

`)
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), `
Simple usage:

 %s [ -listen <ws-listen-addr> ] [ -config <config.yaml> ] [ <export-root> ]

`, os.Args[0])
	}
	flag.Parse()

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		log.Fatalf("Error loading config: %+v", err)
	}

	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	sharedRoot := cfg.VirtualRoot
	if flag.NArg() == 1 {
		sharedRoot = flag.Args()[0]
	} else if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(1)
	}

	absRoot, err := filepath.Abs(sharedRoot)
	if err != nil {
		log.Fatalf("Error with [%s] as root to share: %+v", sharedRoot, err)
	}

	var collector *metrics.Collector
	if metricsListen != "" {
		collector = metrics.NewCollector("wsfsd")
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(metricsListen, mux); err != nil {
				glog.Errorf("wsfsd: metrics listener stopped: %v", err)
			}
		}()
		glog.Infof("wsfsd: serving metrics on %s", metricsListen)
	}

	exporter := &sftpd.Exporter{
		ExportRoot: absRoot,
		ReadOnly:   cfg.ReadOnly,
		HideUIDGID: cfg.HideUIDGID,
		Metrics:    collector,
	}

	fmt.Fprintf(os.Stderr, "Exporting %s on %s ...\n", absRoot, cfg.Listen)

	mux := http.NewServeMux()
	mux.Handle("/", exporter)
	if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
		log.Fatalf("Error serving WebSocketFS root [%s]=>[%s]: %+v", sharedRoot, absRoot, err)
	}
}
