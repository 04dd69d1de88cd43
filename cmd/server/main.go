// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lawmate-go/internal/config"
	"lawmate-go/internal/handler"
	"lawmate-go/internal/middleware"
	"lawmate-go/internal/pipeline"
	"lawmate-go/internal/push"
	"lawmate-go/internal/repository"
	"lawmate-go/internal/service"
	"lawmate-go/internal/store"
	"lawmate-go/pkg/database"
	"lawmate-go/pkg/es"
	"lawmate-go/pkg/kafka"
	"lawmate-go/pkg/log"
	"lawmate-go/pkg/relay"
	"lawmate-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository 与进程级状态
	userRepository := repository.NewUserRepository(database.DB)
	threadRepository := repository.NewThreadRepository(database.DB)
	messageRepository := repository.NewMessageRepository(database.DB)
	conversationCache := repository.NewConversationCache(database.RDB)
	convStore := store.NewConversationStore(conversationCache)
	netStore := store.NewNetworkStore()
	hub := push.NewHub()

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	relayClient := relay.NewClient(cfg.Relay)
	userService := service.NewUserService(userRepository, jwtManager)
	threadService := service.NewThreadService(threadRepository, messageRepository, convStore)
	searchService := service.NewSearchService()
	chatService := service.NewChatService(
		messageRepository,
		threadRepository,
		convStore,
		relayClient,
		hub,
		producer,
		userService,
		cfg.Chat,
		cfg.Relay,
	)

	// 6. 启动后台 Kafka 消费者：投递事件异步写入搜索索引
	indexer := pipeline.NewIndexer(cfg.Elasticsearch)
	go kafka.StartConsumer(cfg.Kafka, indexer)

	// 7. 网络恢复在线时重投失败消息
	netStore.Subscribe(func(online bool) {
		if online {
			go chatService.ResyncFailed()
		}
	})

	// 8. 启动中继连通性探测
	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()
	go probeRelay(probeCtx, relayClient, netStore, cfg.Chat.ProbeIntervalSeconds)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Thread 路由组，需要认证
		threads := apiV1.Group("/threads")
		threads.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			threadHandler := handler.NewThreadHandler(threadService)
			threads.POST("", threadHandler.Create)
			threads.GET("", threadHandler.List)
			threads.GET("/:id/messages", threadHandler.Open)
			threads.PUT("/:id", threadHandler.Rename)
			threads.DELETE("/:id", threadHandler.Delete)
		}

		// Chat 路由组，需要认证
		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatHandler := handler.NewChatHandler(chatService, netStore)
			chat.POST("/send", chatHandler.Send)
			chat.POST("/retry", chatHandler.Retry)
			chat.GET("/status", chatHandler.Status)
		}

		// Search 路由组，需要认证
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.GET("/messages", handler.NewSearchHandler(searchService).SearchMessages)
		}
	}

	// WebSocket 路由 (token 走路径参数)
	r.GET("/ws/:token", handler.NewWSHandler(hub, userService, jwtManager).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者是一个循环，会在程序退出时自然结束。
	log.Info("服务已优雅关闭")
}

// probeRelay 周期性探测 AI 中继的可达性并更新网络状态。
// 探测结果驱动 NetworkStore 的状态跳变，离线恢复在线时触发失败消息重投。
func probeRelay(ctx context.Context, client relay.Client, netStore *store.NetworkStore, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := client.Ping(probeCtx)
			cancel()
			if err != nil {
				if netStore.IsOnline() {
					log.Warnf("中继探测失败，标记为离线: %v", err)
				}
				netStore.SetOnline(false)
				continue
			}
			netStore.SetOnline(true)
		}
	}
}
