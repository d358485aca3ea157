package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/martinez099/ordershop/internal/app/bootstrap"
)

func main() {
	flagSet := pflag.NewFlagSet("ordershop-worker", pflag.ExitOnError)
	configPath := flagSet.String("config", "configs/default.yaml", "path to the YAML config file")
	_ = flagSet.Parse(os.Args[1:])

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		log.Fatalf("bootstrap worker runtime: %v", err)
	}
	if err := runtime.RunWorker(ctx); err != nil {
		log.Fatalf("run worker: %v", err)
	}
}
