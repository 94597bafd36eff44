package main

import (
	"bookmind/cmd/cmd"
	"bookmind/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
