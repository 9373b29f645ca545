// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kb-assistant-go/internal/app"
	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/gateway"
	"kb-assistant-go/internal/handler"
	"kb-assistant-go/internal/middleware"
	"kb-assistant-go/internal/pipeline"
	"kb-assistant-go/internal/rag"
	"kb-assistant-go/internal/service"
	"kb-assistant-go/pkg/kafka"
	"kb-assistant-go/pkg/llm"
	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	if cfg.JWT.Secret == "" {
		log.Fatalf("jwt.secret 未配置")
	}

	// 后台任务（Kafka 消费者、初始化导入）共用的上下文，停机时取消
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 3. 初始化存储后端
	embeddingClient := app.NewEmbedder(cfg)
	kbIndex, err := app.OpenIndex(bgCtx, cfg, embeddingClient)
	if err != nil {
		log.Fatalf("知识库索引初始化失败: %v", err)
	}
	defer kbIndex.Close()

	objectStore, err := app.OpenObjectStore(bgCtx, cfg)
	if err != nil {
		log.Fatalf("文档存储初始化失败: %v", err)
	}
	docRepo, err := app.OpenDocumentRepository(bgCtx, cfg)
	if err != nil {
		log.Fatalf("文档登记初始化失败: %v", err)
	}
	if c, ok := docRepo.(io.Closer); ok {
		defer c.Close()
	}
	sessions, rdb, err := app.OpenSessionStore(bgCtx, cfg)
	if err != nil {
		log.Fatalf("会话存储初始化失败: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 4. 初始化生成网关与 RAG 组合器
	gw := gateway.New(llm.NewClient(cfg.LLM), cfg.LLM)
	composer := rag.NewComposer(kbIndex, gw,
		rag.WithTopK(cfg.RAG.TopK),
		rag.WithTimeout(cfg.RAG.GenerationTimeout),
		rag.WithMessages(rag.Messages{
			EmptyKnowledgeBase:  cfg.RAG.Messages.EmptyKnowledgeBase,
			NoRelevantDocuments: cfg.RAG.Messages.NoRelevantDocuments,
			Failure:             cfg.RAG.Messages.Failure,
		}),
		rag.WithPrompt(rag.Prompt{
			Rules:        cfg.LLM.Prompt.Rules,
			RefStart:     cfg.LLM.Prompt.RefStart,
			RefEnd:       cfg.LLM.Prompt.RefEnd,
			Instructions: cfg.LLM.Prompt.Instructions,
		}),
	)

	// 5. 初始化文件处理管道 (Processor) 与 Service (依赖注入)
	processor := pipeline.NewProcessor(objectStore, app.NewLoader(cfg), kbIndex, docRepo)
	docOpts := []service.DocumentOption{service.WithMaxFileSize(cfg.Ingest.MaxFileSize())}
	if cfg.Ingest.Async {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		docOpts = append(docOpts, service.WithTaskProducer(producer))

		// 6. 启动后台 Kafka 消费者
		var attempts kafka.AttemptCounter = kafka.NewMemoryAttemptCounter()
		if rdb != nil {
			attempts = kafka.NewRedisAttemptCounter(rdb)
		}
		consumer := kafka.NewConsumer(cfg.Kafka, processor, attempts)
		go func() {
			if err := consumer.Run(bgCtx); err != nil {
				log.Errorf("Kafka 消费者退出: %v", err)
			}
		}()
	}
	documentService := service.NewDocumentService(docRepo, objectStore, processor, docOpts...)
	assistant := service.NewAssistant(sessions, gw, composer, kbIndex, documentService, cfg.Assistant)

	// 6.1 导入 seed_dir 中的文档，已导入则跳过
	if cfg.Ingest.SeedDir != "" {
		go app.SeedDirectory(bgCtx, cfg.Ingest.SeedDir, documentService)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	handler.SetupRouter(r, handler.Handlers{
		Auth:      handler.NewAuthHandler(jwtManager, cfg.Auth.APIKeyHash),
		Assistant: handler.NewAssistantHandler(assistant, cfg.Ingest.MaxFileSize()),
		Chat:      handler.NewChatHandler(assistant, jwtManager),
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s, index: %s, 知识库分块数: %d", srv.Addr, cfg.Index.Backend, kbIndex.Size(bgCtx))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停止后台任务，正在处理的消息不会被提交，重启后重新消费
	cancelBg()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
