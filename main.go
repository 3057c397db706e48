// @title LearnHub 后端 API
// @version 1.0
// @description 课程大纲与学习进度服务。
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"flag"
	"learnhub_backend/internal/app"
	"learnhub_backend/internal/config"
	"learnhub_backend/pkg/logger"
	"log"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件所在目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	rebuild := flag.Bool("rebuild-syllabus", false, "重建全部课程大纲后退出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	application.ConfigDir = *configDir
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		logger.Log.Info("Database migration completed, exiting")
		return
	}

	if *rebuild {
		results, err := application.RebuildSyllabi(context.Background())
		if err != nil {
			logger.Log.Fatal("Syllabus rebuild aborted", zap.Error(err))
		}
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
				logger.Log.Warn("Syllabus rebuild failed", zap.String("courseId", r.CourseID), zap.String("error", r.Error))
			}
		}
		logger.Log.Info("Syllabus rebuild finished", zap.Int("total", len(results)), zap.Int("failed", failed))
		return
	}

	application.Run()
}
