/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference DESIGN.md
 * @stateFlow 无状态HTTP请求处理，会话状态由流水线控制器维护
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs service/init.go
 */

package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"survey-pipeline-service/api/controllers"
	"survey-pipeline-service/service"
)

// InitRoute 初始化所有API路由
func InitRoute(r chi.Router) {
	// 基础中间件
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if service.GlobalMetrics != nil {
		r.Use(service.GlobalMetrics.Middleware)
	}

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Cache-Control"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var (
		history  controllers.ModificationHistorian
		archive  controllers.HistoryStore
		probes   = make(map[string]controllers.ReadinessProbe)
		pipeline = service.GlobalController
	)
	if service.GlobalStore != nil {
		history = service.GlobalStore
		archive = service.GlobalStore
		probes["database"] = service.GlobalStore
	}
	if service.GlobalRateLimiter != nil {
		probes["redis"] = service.GlobalRateLimiter
	}

	// 健康检查
	healthController := controllers.NewHealthController(pipeline.ActiveSessions, probes)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// SSE事件订阅
	eventController := controllers.NewEventController(service.GlobalEventService, pipeline)
	r.Get("/sse/{session_id}", eventController.HandleSSE)
	r.With(render.SetContentType(render.ContentTypeJSON)).
		Get("/sse/{session_id}/connections", eventController.GetSSEConnectionList)

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// 持久化查询
		databaseController := controllers.NewDatabaseController(archive)
		r.Get("/database/status", databaseController.GetStatus)
		r.Route("/analysis-history", func(r chi.Router) {
			r.Get("/", databaseController.ListSessions)
			r.Get("/{id}/events", databaseController.StageEvents)
		})

		// 分析会话
		sessionController := controllers.NewSessionController(pipeline, history, service.GlobalConfig.Upload.MaxBytes)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionController.Upload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionController.Get)
				r.Delete("/", sessionController.Delete)
				r.Post("/reset", sessionController.Reset)
				r.Put("/selection", sessionController.Select)

				// 翻译与打标
				r.Post("/translation", sessionController.Translate)
				r.Post("/labels/standard", sessionController.LabelStandard)
				r.Post("/labels/reference", sessionController.LabelReference)
				r.Get("/tag-definitions", sessionController.GetTagDefinitions)
				r.Put("/tag-definitions", sessionController.PutTagDefinitions)
				r.Post("/tag-definitions/import", sessionController.ImportTagDefinitions)

				// 人工修改
				r.Route("/labels/{strategy}", func(r chi.Router) {
					r.Get("/", sessionController.GetLabels)
					r.Post("/edits", sessionController.EditCell)
					r.Post("/batch", sessionController.BatchEdit)
					r.Post("/save", sessionController.Save)
					r.Post("/discard", sessionController.Discard)
				})
				r.Get("/modifications/history", sessionController.ModificationHistory)

				// 统计与输出
				r.Post("/statistics", sessionController.ComputeStatistics)
				r.Get("/statistics", sessionController.GetStatistics)
				r.Get("/export/{variant}", sessionController.Export)
				r.Post("/import", sessionController.Import)
			})
		})
	})
}
