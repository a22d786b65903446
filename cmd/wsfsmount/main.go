// Command wsfsmount runs as the WebSocketFS client mount daemon for a
// specified mount point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	gofusefs "github.com/hanwen/go-fuse/v2/fs"

	"github.com/qbane/websocketfs/pkg/config"
	"github.com/qbane/websocketfs/pkg/fsadapter"
	"github.com/qbane/websocketfs/pkg/metrics"
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
	urlFlag       string
	configPath    string
	readOnly      bool
	metricsListen string
)

func init() {
	flag.StringVar(&urlFlag, "url", "", "the `ws://` or `wss://` URL of the WebSocketFS server, overrides the config file")
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config file")
	flag.BoolVar(&readOnly, "ro", false, "mount read-only")
	flag.StringVar(&metricsListen, "metrics", "", "`addr` to serve Prometheus metrics on, disabled when empty")
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
This is WebSocketFS Client, all options:

`)
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), `
Simple usage:

 %s [ -url <ws-url> ] [ -config <config.yaml> ] <mount-point>

`, os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		log.Fatalf("Error loading config: %+v", err)
	}

	if urlFlag != "" {
		cfg.URL = urlFlag
	}

	mpFullPath, err := prepareMountpoint(flag.Args()[0])
	if err != nil {
		log.Fatalf("%+v", err)
	}

	cfg.URL, err = resolveURL(cfg.URL, mpFullPath)
	if err != nil {
		flag.Usage()
		log.Fatalf("%+v", err)
	}

	var collector *metrics.Collector
	if metricsListen != "" {
		collector = metrics.NewCollector("wsfsmount")
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(metricsListen, mux); err != nil {
				glog.Errorf("wsfsmount: metrics listener stopped: %v", err)
			}
		}()
		glog.Infof("wsfsmount: serving metrics on %s", metricsListen)
	}

	var trackingThreshold time.Time
	if cfg.ReadTracking.Modified > 0 {
		trackingThreshold = time.Now().Add(-cfg.ReadTracking.Modified)
	}

	reconnect := cfg.Reconnect
	fsys := fsadapter.NewFileSystem(fsadapter.DialWS(cfg.URL, nil), fsadapter.Options{
		CacheTTL:               cfg.CacheTTL,
		CacheStatTTL:           cfg.CacheStatTimeout,
		CacheDirTTL:            cfg.CacheDirTimeout,
		CacheLinkTTL:           cfg.CacheLinkTimeout,
		ReadOnly:               readOnly,
		Reconnect:              &reconnect,
		HidePaths:              cfg.HidePath,
		MetadataFile:           cfg.MetadataFile,
		TrackingFile:           cfg.ReadTracking.File,
		TrackingMtimeThreshold: trackingThreshold,
		TrackingUpdateInterval: cfg.ReadTracking.Update,
		TrackingTimeout:        cfg.ReadTracking.Timeout,
		Metrics:                collector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	fsys.Mount(ctx)

	mountOpts := &gofusefs.Options{
		MountOptions: gofuse.MountOptions{
			FsName: fmt.Sprintf("wsfs:%s", cfg.URL),
			Name:   "wsfs",
		},
	}
	if readOnly {
		mountOpts.Options = append(mountOpts.Options, "ro")
	}

	fmt.Fprintf(os.Stderr, "Mounting %s to %v ...\n", cfg.URL, mpFullPath)

	server, err := gofusefs.Mount(mpFullPath, fsys.Root(), mountOpts)
	if err != nil {
		cancel()
		log.Fatalf("Error mounting WebSocketFS at [%s]: %+v", mpFullPath, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		glog.Infof("wsfsmount: signal received, unmounting %s", mpFullPath)
		server.Unmount()
	}()

	server.Wait()
	fsys.Unmount()
	cancel()
}
