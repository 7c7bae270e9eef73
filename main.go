package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger"

	"survey-pipeline-service/api"
	"survey-pipeline-service/api/controllers"
	_ "survey-pipeline-service/docs"
	"survey-pipeline-service/logger"
	"survey-pipeline-service/service"
	"survey-pipeline-service/service/classifier"
	"survey-pipeline-service/service/config"
	"survey-pipeline-service/service/ingest"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "survey-pipeline-service",
		Short:        "问卷分析流水线服务",
		Long:         "问卷数据上传、题型识别、开放题翻译、标签打标、人工修改与统计分析服务",
		Version:      controllers.Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（默认读取 SURVEY_CONFIG）")

	rootCmd.AddCommand(newServeCmd(), newClassifyCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger.InitLogger(cfg.Log.Level)
			return serve(cmd.Context(), cfg)
		},
	}
}

// @title 问卷分析流水线服务 API
// @version 1.0
// @description 问卷数据上传、题型识别、开放题翻译、标签打标、人工修改与统计分析
// @BasePath /
func serve(ctx context.Context, cfg *config.ApplicationConfig) error {
	if err := service.Init(cfg); err != nil {
		return err
	}
	defer service.Shutdown()

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if cfg.Server.BaseContext != "" {
		mux.Route(cfg.Server.BaseContext, mountRoutes)
	} else {
		mountRoutes(mux)
	}

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(cfg.Server.Port), mux)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("收到停止信号，正在关闭服务")
		if err := s.GracefulStop(); err != nil {
			slog.Error("关闭HTTP服务失败", "error", err)
		}
	}()

	slog.Info("服务启动", "port", cfg.Server.Port, "base_context", cfg.Server.BaseContext)
	if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP服务异常退出: %w", err)
	}
	return nil
}

func mountRoutes(r chi.Router) {
	api.InitRoute(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/swagger*", httpSwagger.WrapHandler)
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file>",
		Short: "离线识别问卷文件的题型与题组",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger.InitLogger(cfg.Log.Level)

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("读取文件失败: %w", err)
			}
			data, err := ingest.NewParser(cfg.Upload).Parse(filepath.Base(args[0]), content)
			if err != nil {
				return err
			}
			schema := classifier.Classify(data)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d 行，%d 列\n", data.RowCount(), len(data.Columns))

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"题组", "题组题型", "字段", "字段题型", "识别依据"})
			for _, g := range schema.Groups {
				for _, name := range g.Fields {
					f, _ := schema.Field(name)
					t.AppendRow(table.Row{g.MainQuestionID, g.Type, name, f.Type, f.MatchReason})
				}
				t.AppendSeparator()
			}
			t.Render()
			if len(schema.Ungrouped) > 0 {
				fmt.Fprintf(out, "\n未分组字段: %v\n", schema.Ungrouped)
			}
			return nil
		},
	}
}
