package main

import (
	"github.com/cortexbrain/cortex/internal/server"
	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
