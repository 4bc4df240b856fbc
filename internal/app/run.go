package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/fsutil"
	"github.com/vk/modeldeploy/internal/pipeline"
	"github.com/vk/modeldeploy/internal/task"
)

// Run executes the deployment pipeline end to end.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	workDir := a.resolveWorkDir()
	if err := fsutil.EnsureDir(workDir); err != nil {
		return fmt.Errorf("failed to prepare work dir: %w", err)
	}
	a.logger.Info("Work dir ready.", "work_dir", workDir)

	// Catch a pipeline/handler mismatch now rather than inside a worker.
	reg := NewRegistry()
	a.logger.Info("Stage handlers registered.", "stages", reg.Names())
	if err := reg.Validate(pipeline.StageNames...); err != nil {
		return err
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own binary for worker spawning: %w", err)
	}
	exec := task.NewProcessExecutor(a.logger, binary, a.appConfig.LogLevel, a.appConfig.LogFormat)

	p := pipeline.New(a.deploy, exec, a.logger, pipeline.Options{
		DeployCfgPath:  a.appConfig.DeployCfgPath,
		ModelCfgPath:   a.appConfig.ModelCfgPath,
		CheckpointPath: a.appConfig.CheckpointPath,
		ImgPath:        a.appConfig.ImgPath,
		WorkDir:        workDir,
		Device:         a.appConfig.Device,
		Show:           a.appConfig.Show,
	})
	if err := p.Run(ctx); err != nil {
		return err
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// resolveWorkDir picks the output directory: the --work-dir flag wins, then
// the deploy config's work_dir (relative to the config file), then a
// work_dirs entry named after the config file.
func (a *App) resolveWorkDir() string {
	if a.appConfig.WorkDir != "" {
		return a.appConfig.WorkDir
	}
	cfgDir := filepath.Dir(a.appConfig.DeployCfgPath)
	if a.deploy.WorkDir != "" {
		if filepath.IsAbs(a.deploy.WorkDir) {
			return a.deploy.WorkDir
		}
		return filepath.Join(cfgDir, a.deploy.WorkDir)
	}
	base := filepath.Base(a.appConfig.DeployCfgPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join("work_dirs", base)
}
