package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/campuslance/platform/internal/app/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if *configPath == "" {
		if env := os.Getenv("CONFIG_PATH"); env != "" {
			*configPath = env
		}
	}

	if err := runtime.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
