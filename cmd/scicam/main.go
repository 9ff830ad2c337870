/*
NAME
  main.go

DESCRIPTION
  main.go is the entry point of the scicam acquisition host. It parses
  flags and an optional YAML configuration file, opens a camera driver,
  runs acquisitions and prints the end-of-run statistics. Changes to the
  configuration file are watched and applied between runs.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/coreos/go-systemd/daemon"
	"github.com/fsnotify/fsnotify"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/ausocean/scicam/acquire"
	"github.com/ausocean/scicam/acquire/config"
	"github.com/ausocean/scicam/device"
	_ "github.com/ausocean/scicam/device/fake"
	"github.com/ausocean/scicam/frame"
)

// Current software version.
const version = "v0.5.0"

// Logging configuration.
const (
	logPath      = "/var/log/scicam/scicam.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logSuppress  = true
)

// previewPeriod is the tick rate fed to the preview FPS limiter.
const previewPeriod = 250 * time.Millisecond

const pkg = "scicam: "

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version")
		listDrivers = flag.Bool("list", false, "list available camera drivers")
		driver      = flag.String("driver", "fake", "camera driver name")
		cfgFile     = flag.String("config", "", "YAML configuration file, watched for changes between runs")
		saveDir     = flag.String("save-dir", "", "output directory")
		frames      = flag.Uint("frames", 100, "number of frames to acquire")
		storage     = flag.String("storage", "None", "storage type: None, Prd or Tiff")
		stackSize   = flag.Uint64("stack-size", 0, "max stacked file size in bytes, 0 for single-frame files")
		saveFirst   = flag.Uint("save-first", 0, "save only the first N frames")
		saveLast    = flag.Uint("save-last", 0, "save only the last N frames")
		preview     = flag.Bool("preview", false, "report paced preview frames")
		loop        = flag.Bool("loop", false, "start a new acquisition when one finishes")
		verbosity   = flag.Int("verbosity", int(logging.Info), "logging verbosity")
	)
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(int8(*verbosity), io.MultiWriter(os.Stderr, fileLog), logSuppress)
	log.Info("starting scicam", "version", version)

	if *listDrivers {
		for i := 0; i < device.Count(); i++ {
			name, _ := device.NameAt(i)
			fmt.Println(name)
		}
		os.Exit(0)
	}

	cfg := config.Config{
		Logger:             log,
		AcqMode:            config.SnapSequence,
		AcqFrameCount:      uint32(*frames),
		BufferFrameCount:   16,
		Exposure:           10,
		ExposureResolution: config.ResMs,
		Regions:            []frame.Region{{S1: 0, S2: 511, Sbin: 1, P1: 0, P2: 511, Pbin: 1}},
		SaveDir:            *saveDir,
		SaveFirst:          uint32(*saveFirst),
		SaveLast:           uint32(*saveLast),
		MaxStackSize:       *stackSize,
	}
	cfg.Update(map[string]string{config.KeyStorageType: *storage})

	watcher := newConfigWatcher(*cfgFile, log)
	defer watcher.close()
	watcher.apply(&cfg)

	log.Debug("opening camera", "driver", *driver)
	cam, err := device.Open(*driver, log)
	if err != nil {
		log.Fatal(pkg+"could not open camera", "error", err.Error())
	}
	defer cam.Close()

	acq := acquire.New(cam, log)

	var limiter *acquire.Limiter
	if *preview {
		limiter = acquire.NewLimiter(log)
		err := limiter.Start(func(f *frame.Frame) {
			if f == nil {
				log.Debug("preview heartbeat, disk still working")
				return
			}
			log.Debug("preview frame", "frameNr", f.Info().FrameNr)
		})
		if err != nil {
			log.Fatal(pkg+"could not start preview limiter", "error", err.Error())
		}
		defer limiter.Stop(false)

		ticker := time.NewTicker(previewPeriod)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				limiter.InputTimerTick()
			}
		}()
	}

	// Abort cooperatively on interrupt: first signal drains buffered
	// frames, a second one drops them.
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("interrupt received, finishing buffered frames")
		acq.RequestAbort(true)
		<-sig
		log.Info("second interrupt received, aborting")
		acq.RequestAbort(false)
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)

	log.Debug("beginning main loop")
	run(acq, &cfg, watcher, limiter, *loop, log)

	daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// run performs one acquisition or, with loop set, keeps starting new ones
// until a run is aborted, re-reading the configuration file between runs.
// A non-nil limiter receives a copy of every processed frame for preview.
func run(acq *acquire.Acquisition, cfg *config.Config, watcher *configWatcher, limiter *acquire.Limiter, loop bool, l logging.Logger) {
	for {
		watcher.apply(cfg)

		err := acq.Setup(*cfg)
		if err != nil {
			l.Fatal(pkg+"could not set up acquisition", "error", err.Error())
		}
		err = acq.Start(limiter)
		if err != nil {
			l.Fatal(pkg+"could not start acquisition", "error", err.Error())
		}
		aborted := acq.WaitForStop(true)
		if aborted || !loop {
			return
		}
	}
}

// configWatcher re-reads a YAML variable file when it changes on disk.
// Updates are applied between runs, never to a running acquisition.
type configWatcher struct {
	mu      sync.Mutex
	vars    map[string]string
	changed bool
	w       *fsnotify.Watcher
	log     logging.Logger
}

func newConfigWatcher(path string, l logging.Logger) *configWatcher {
	cw := &configWatcher{log: l}
	if path == "" {
		return cw
	}
	cw.load(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.Warning("could not watch config file", "error", err.Error())
		return cw
	}
	if err := w.Add(path); err != nil {
		l.Warning("could not watch config file", "path", path, "error", err.Error())
		w.Close()
		return cw
	}
	cw.w = w
	go func() {
		for ev := range w.Events {
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.Info("config file changed, applying before next run", "path", ev.Name)
			cw.load(ev.Name)
		}
	}()
	return cw
}

func (cw *configWatcher) load(path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		cw.log.Warning("could not read config file", "path", path, "error", err.Error())
		return
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		cw.log.Warning("could not parse config file", "path", path, "error", err.Error())
		return
	}
	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		vars[k] = fmt.Sprint(v)
	}
	cw.mu.Lock()
	cw.vars = vars
	cw.changed = true
	cw.mu.Unlock()
}

// apply updates cfg with the most recently loaded variables, if any
// changed since the last call.
func (cw *configWatcher) apply(cfg *config.Config) {
	cw.mu.Lock()
	vars := cw.vars
	changed := cw.changed
	cw.changed = false
	cw.mu.Unlock()
	if !changed || len(vars) == 0 {
		return
	}
	cfg.Update(vars)
}

func (cw *configWatcher) close() {
	if cw.w != nil {
		cw.w.Close()
	}
}
