// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/mbarbosa/gantry/pkg/registry"
	"github.com/mbarbosa/gantry/pkg/runners/httpcall"
	"github.com/mbarbosa/gantry/pkg/runners/notify"
	"github.com/mbarbosa/gantry/pkg/runners/passthrough"
)

// NewRegistry builds a registry with the native step runners registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterRunner(passthrough.NewFactory())
	reg.RegisterRunner(httpcall.NewFactory())
	reg.RegisterRunner(notify.NewFactory())

	return reg
}
