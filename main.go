package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/agent"
	"github.com/score-hub/score-hub/internal/cache"
	"github.com/score-hub/score-hub/internal/classify"
	"github.com/score-hub/score-hub/internal/config"
	"github.com/score-hub/score-hub/internal/lifecycle"
	"github.com/score-hub/score-hub/internal/logging"
	"github.com/score-hub/score-hub/internal/notify"
	"github.com/score-hub/score-hub/internal/server"
	"github.com/score-hub/score-hub/internal/server/routes"
	"github.com/score-hub/score-hub/internal/syncer"
	"github.com/score-hub/score-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["manifest"] = len(cfg.Manifest)
		fields["static_generation"] = cfg.Global.StaticGeneration()
		fields["data_generation"] = cfg.Global.DataGeneration()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 磁盘缓存 → 生命周期 install/activate → Fiber
	// server”顺序，保证策略层只寻址已晋升的缓存代。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	upstream, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		fmt.Fprintf(stdErr, "解析上游地址失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)

	manager, err := lifecycle.NewManager(lifecycle.Options{
		Client:    httpClient,
		Logger:    logger,
		Store:     store,
		Upstream:  upstream,
		StaticGen: cfg.Global.StaticGeneration(),
		DataGen:   cfg.Global.DataGeneration(),
		Manifest:  cfg.Manifest,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建生命周期管理器失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := manager.Install(ctx); err != nil {
		// 安装失败只作用于待晋升的缓存代，磁盘上已有的旧代继续服务。
		logger.WithError(err).WithField("action", "install_failed").Warn("预热失败，沿用既有缓存")
	} else if err := manager.Activate(ctx); err != nil {
		logger.WithError(err).WithField("action", "activate_failed").Warn("缓存代晋升失败")
	}

	classifier := classify.New(cfg.Classifier)
	agentHandler := agent.NewHandler(httpClient, logger, store, classifier, manager, upstream)

	rootURL := fmt.Sprintf("http://localhost:%d/", cfg.Global.ListenPort)
	relay := notify.NewRelay(logger, rootURL)
	backgroundSyncer := syncer.New(httpClient, logger, store, manager.DataGeneration(), cfg.Global.SyncInterval.DurationValue())
	go backgroundSyncer.Run(ctx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["upstream"] = cfg.Upstream.BaseURL
	fields["static_generation"] = manager.StaticGeneration()
	fields["data_generation"] = manager.DataGeneration()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	deps := routes.AgentDeps{
		Logger:    logger,
		Store:     store,
		Lifecycle: manager,
		Syncer:    backgroundSyncer,
		Relay:     relay,
	}
	if err := startHTTPServer(cfg, agentHandler, deps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("score-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SCORE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SCORE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, agentHandler server.AgentHandler, deps routes.AgentDeps, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Agent:      agentHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterAgentRoutes(app, deps)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
