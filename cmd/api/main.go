package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/martinez099/ordershop/internal/app/bootstrap"
)

func main() {
	flagSet := pflag.NewFlagSet("ordershop-api", pflag.ExitOnError)
	configPath := flagSet.String("config", "configs/default.yaml", "path to the YAML config file")
	_ = flagSet.Parse(os.Args[1:])

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		log.Fatalf("bootstrap api runtime: %v", err)
	}
	if err := runtime.RunAPI(ctx); err != nil {
		log.Fatalf("run api: %v", err)
	}
}
