// Package main runs missionctl, the mission store maintenance and headless
// simulation tool.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	missionctl "github.com/louisbranch/metis/internal/cmd/missionctl"
)

func main() {
	cfg, err := missionctl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[MISSIONCTL] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := missionctl.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("missionctl %s: %v", cfg.Mode, err)
	}
}
