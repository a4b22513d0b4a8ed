package main

import (
	"flag"
	"os"

	"github.com/steamwings/fizzy/internal/platform/config"
	"github.com/steamwings/fizzy/internal/tools/apitoken"
)

func main() {
	cfg, err := apitoken.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := apitoken.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("mint token: %v", err)
	}
}
