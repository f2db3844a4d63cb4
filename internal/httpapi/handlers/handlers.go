// Package handlers implements the render API endpoints. Handlers return
// coded errors and leave the response mapping to middleware.HandleError.
package handlers

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"proofrender/internal/adapters/storage/localfs"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/ports"
	"proofrender/internal/presets"
	"proofrender/internal/worker"
)

// Renders is the part of the dispatcher the handlers call.
// *worker.Dispatcher satisfies it.
type Renders interface {
	Submit(ctx context.Context, jobID, presetName string) (worker.Submission, error)
	Status(ctx context.Context, jobID string) (worker.StatusView, error)
}

// Check probes one dependency for the deep health endpoint.
type Check func(ctx context.Context) error

type Deps struct {
	Jobs    ports.JobStore
	Renders Renders
	// Uploads is rooted at the uploads directory; assets are stored under
	// {job_id}/asset.gltf.
	Uploads   *localfs.LocalFS
	Artifacts ports.StorageProvider
	Catalog   *presets.Catalog
	MaxUpload int64
	Checks    map[string]Check
	Version   string
	Now       func() time.Time
	Log       *logger.Logger
}

type Handler struct {
	jobs      ports.JobStore
	renders   Renders
	uploads   *localfs.LocalFS
	artifacts ports.StorageProvider
	catalog   *presets.Catalog
	maxUpload int64
	checks    map[string]Check
	version   string
	now       func() time.Time
	log       *logger.Logger
	validate  *validator.Validate
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	version := d.Version
	if version == "" {
		version = "dev"
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &Handler{
		jobs:      d.Jobs,
		renders:   d.Renders,
		uploads:   d.Uploads,
		artifacts: d.Artifacts,
		catalog:   d.Catalog,
		maxUpload: d.MaxUpload,
		checks:    d.Checks,
		version:   version,
		now:       now,
		log:       log.WithComponent("httpapi"),
		validate:  validate,
	}
}
