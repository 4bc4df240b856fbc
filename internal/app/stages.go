package app

import (
	"github.com/vk/modeldeploy/internal/registry"
	"github.com/vk/modeldeploy/internal/stage/export"
	"github.com/vk/modeldeploy/internal/stage/extract"
	"github.com/vk/modeldeploy/internal/stage/infer"
	"github.com/vk/modeldeploy/internal/stage/trt"
)

// coreStages is the closed set of stage handlers shipped with the driver.
var coreStages = []registry.Stage{
	export.Stage{},
	extract.Stage{},
	trt.Stage{},
	infer.Stage{},
}

// NewRegistry builds the stage registry used by both the driver and every
// worker process.
func NewRegistry() *registry.Registry {
	reg := registry.New()
	for _, s := range coreStages {
		reg.Register(s)
	}
	return reg
}
