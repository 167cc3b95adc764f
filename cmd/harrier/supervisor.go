package main

import (
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// tree is the supervisor hierarchy. A crashing pipeline service restarts on
// its own without taking the HTTP layer down.
type tree struct {
	root        *suture.Supervisor
	pipeline    *suture.Supervisor
	maintenance *suture.Supervisor
	api         *suture.Supervisor
}

func newTree(logger *slog.Logger) *tree {
	handler := &sutureslog.Handler{Logger: logger}

	spec := suture.Spec{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	}
	rootSpec := spec
	rootSpec.EventHook = handler.MustHook()

	t := &tree{
		root:        suture.New("harrier", rootSpec),
		pipeline:    suture.New("risk-pipeline", spec),
		maintenance: suture.New("maintenance", spec),
		api:         suture.New("api-layer", spec),
	}
	t.root.Add(t.pipeline)
	t.root.Add(t.maintenance)
	t.root.Add(t.api)
	return t
}
