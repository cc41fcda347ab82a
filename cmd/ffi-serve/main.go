package main

import (
	"flag"
	"os"

	"go.uber.org/fx"
)

func main() {
	path := flag.String("config", os.Getenv("FFI_CONFIG"), "Path to a YAML or TOML config file")
	flag.Parse()

	fx.New(Module(*path)).Run()
}
