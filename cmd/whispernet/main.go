package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/whispernet/whispernet/controller"
	"github.com/whispernet/whispernet/controller/archive"
	"github.com/whispernet/whispernet/controller/config"
)

func main() {
	var (
		p          *int    = flag.Int("p", 0, "the port for the webpage and websocket; overrides the config file")
		configPath *string = flag.String("config", "", "path to a YAML config file")
		clientDir  *string = flag.String("client", "client/build", "directory of the web client")
	)
	flag.Parse()

	conf, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *p != 0 {
		conf.Listen = ":" + strconv.Itoa(*p)
	}
	logger := conf.NewLogger()
	slog.SetDefault(logger)

	var store *archive.Store
	if conf.ArchivePath != "" {
		if store, err = archive.Open(conf.ArchivePath); err != nil {
			logger.Error("open archive", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	ctr, err := controller.CreateController(controller.Options{
		ShortDelay:   conf.ShortDelayMS,
		LongDelay:    conf.LongDelayMS,
		VerifyTiming: conf.VerifyTiming,
		Archive:      store,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("create controller", "err", err)
		os.Exit(1)
	}
	defer ctr.Shutdown()

	r := mux.NewRouter()
	ctr.Register(r)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(*clientDir)))

	srv := &http.Server{Addr: conf.Listen, Handler: r}

	// Intercept the kill signal to ensure proper shutdown of the process
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http server started", "addr", conf.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", "err", err)
	}
	logger.Info("shutting down")
}
