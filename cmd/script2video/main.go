package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ivlev/script2video/internal/cache"
	"github.com/ivlev/script2video/internal/config"
	"github.com/ivlev/script2video/internal/engine"
	"github.com/ivlev/script2video/internal/logger"
	"github.com/ivlev/script2video/internal/system"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML файл конфигурации")
	parseOnly := pflag.Bool("parse-only", false, "Только разобрать сценарий и записать scenes.json")
	scenesDoc := pflag.String("scenes", "", "Собрать видео из готового scenes.json/.yaml вместо сценария")
	clearCache := pflag.Bool("clear-cache", false, "Очистить кэш кадров перед запуском")
	assembleOnly := pflag.Bool("assemble-only", false, "Только склеить готовые кадры и аудио")
	framesDir := pflag.String("frames-dir", "", "Папка с кадрами для --assemble-only (по умолчанию: <work-dir>/frames)")
	audioPath := pflag.String("audio", "", "Аудио для --assemble-only")
	showVersion := pflag.Bool("version", false, "Показать версию")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(pflag.CommandLine, *configPath)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}
	cfg.BuildVersion = version
	logger.Init(cfg.LogLevel)

	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	// Создаем нужные директории, если их нет
	for _, d := range []string{"input/scripts", "output", cfg.WorkDir} {
		os.MkdirAll(d, 0755)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options{
		parseOnly:    *parseOnly,
		scenesDoc:    *scenesDoc,
		clearCache:   *clearCache,
		assembleOnly: *assembleOnly,
		framesDir:    *framesDir,
		audioPath:    *audioPath,
	}); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

type options struct {
	parseOnly    bool
	scenesDoc    string
	clearCache   bool
	assembleOnly bool
	framesDir    string
	audioPath    string
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	if opts.clearCache {
		c, err := cache.New(cfg.CacheDir(), 0)
		if err != nil {
			return err
		}
		n, _ := c.Len()
		if err := c.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		logger.Infof("Удалено кадров из кэша: %d (%s)", n, c.Root())
	}

	p, err := engine.NewPipeline(cfg)
	if err != nil {
		return err
	}

	if opts.assembleOnly {
		dir := opts.framesDir
		if dir == "" {
			dir = cfg.FramesDir()
		}
		if err := p.AssembleOnly(ctx, dir, opts.audioPath, cfg.OutputVideo); err != nil {
			return err
		}
		logger.Infof("Успех! Видео собрано из %s", dir)
		return nil
	}

	if opts.scenesDoc != "" {
		rep, err := p.RunDocument(ctx, opts.scenesDoc)
		if err != nil {
			return err
		}
		logger.Infof("Успех! Результат: %s", rep.Output)
		return nil
	}

	script := cfg.ScriptPath
	if script == "" {
		latest, err := system.FindLatestScript("input/scripts")
		if err != nil {
			return fmt.Errorf("%v. Положите сценарий в input/scripts/", err)
		}
		script = latest
		logger.Infof("Выбран файл: %s", script)
	}

	if opts.parseOnly {
		scenes, err := p.ParseScript(script)
		if err != nil {
			return err
		}
		logger.Infof("Сцен: %d, записано в %s", len(scenes), cfg.ScenesPath())
		return nil
	}

	rep, err := p.Run(ctx, script)
	if err != nil {
		return err
	}
	logger.Infof("Успех! Результат: %s", rep.Output)
	return nil
}
