package main

import (
	"fmt"
	"net/http"
	"os"

	"bookstore-auth/app"
	"bookstore-auth/internal/observability"
)

func main() {
	logger := observability.NewLogger("bookstore-auth")

	runtime, err := app.Build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer runtime.Close()

	addr := fmt.Sprintf(":%d", runtime.Config.Port)
	logger.Info("server_start", map[string]any{"addr": addr, "env": runtime.Config.AppEnv})
	if err := http.ListenAndServe(addr, runtime.Handler); err != nil {
		logger.Error("server_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
