package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskforge/internal/app"
	"taskforge/internal/strategy"
	"taskforge/internal/strategy/builtin"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Built-in strategies; applications register theirs the same way.
	reg := a.Registry()
	if err := reg.Register(ctx, builtin.NewEcho()); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := reg.Register(ctx, builtin.NewSleep(), strategy.WithPriority(1)); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
