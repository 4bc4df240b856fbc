// Package task runs pipeline stages in isolated worker processes.
//
// Each stage executes in a freshly spawned process so that heavyweight
// model-loading libraries start from a clean slate every time and cannot
// leak accelerator state between stages. The driver re-execs its own binary
// in a hidden worker mode, streams a Request over the worker's stdin, and
// decodes a Result from its stdout after the worker exits. A worker that
// dies without reporting a Result is treated as a failure, never as a
// success.
package task
