// Package main is the entry point for the shed tournament server.
package main

import (
	"go.uber.org/fx"

	"shed-tournament/internal/app"
	"shed-tournament/internal/server"
)

func main() {
	fx.New(
		app.Module,
		fx.Invoke(server.Run),
	).Run()
}
