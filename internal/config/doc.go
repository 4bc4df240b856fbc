// Package config defines the deploy configuration schema and its HCL
// loader.
//
// The deploy config is the single source of truth for the pipeline: it names
// the intermediate ONNX file, the optional sub-graph split plan, the target
// backend and its per-model build parameters, the external toolchain
// commands, and the visualization settings. The `config.Deploy` value is
// validated once at load time so that every configuration inconsistency
// surfaces before the first stage runs.
package config
