package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/patch-hub/patch-hub/internal/cache"
	"github.com/patch-hub/patch-hub/internal/catalog"
	"github.com/patch-hub/patch-hub/internal/config"
	"github.com/patch-hub/patch-hub/internal/crawler"
	"github.com/patch-hub/patch-hub/internal/fetch"
	"github.com/patch-hub/patch-hub/internal/flight"
	"github.com/patch-hub/patch-hub/internal/index"
	"github.com/patch-hub/patch-hub/internal/layout"
	"github.com/patch-hub/patch-hub/internal/logging"
	"github.com/patch-hub/patch-hub/internal/proxy"
	"github.com/patch-hub/patch-hub/internal/server"
	"github.com/patch-hub/patch-hub/internal/server/routes"
	"github.com/patch-hub/patch-hub/internal/version"
)

const (
	commandServe = "serve"
	commandCrawl = "crawl"
	commandHelp  = "help"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	command     string
	configPath  string
	checkOnly   bool
	showVersion bool
	catalogPath string
	workers     int
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
	if opts.command == commandHelp {
		return 0
	}
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
		fields["origins"] = config.OriginSummary(cfg.Origins)
		fields["crawler"] = cfg.Crawler.Enabled()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.command == commandCrawl {
		if err := runCrawl(ctx, cfg, opts, logger); err != nil {
			fmt.Fprintf(stdErr, "爬取失败: %v\n", err)
			return 1
		}
		return 0
	}

	if err := runServe(ctx, cfg, opts, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	opts := cliOptions{}
	configFlag := ""

	if args == nil {
		args = []string{}
	}
	root := newRootCommand(&opts, &configFlag)
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(io.Discard)

	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	// --help 时 cobra 不会执行 RunE。
	if opts.command == "" {
		opts.command = commandHelp
	}

	path := os.Getenv("PATCH_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}

// newRootCommand 构造命令树；RunE 只记录选择的子命令，真正的执行交给 run。
func newRootCommand(opts *cliOptions, configFlag *string) *cobra.Command {
	selectCommand := func(name string) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			opts.command = name
			return nil
		}
	}

	root := &cobra.Command{
		Use:           "patch-hub",
		Short:         "游戏热更资源缓存代理与离线镜像工具",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          selectCommand(commandServe),
	}
	root.PersistentFlags().StringVar(configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PATCH_HUB_CONFIG 覆盖）")
	root.PersistentFlags().BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	root.PersistentFlags().BoolVar(&opts.showVersion, "version", false, "显示版本信息")

	serveCmd := &cobra.Command{
		Use:   commandServe,
		Short: "启动在线缓存代理（默认命令）",
		Args:  cobra.NoArgs,
		RunE:  selectCommand(commandServe),
	}

	crawlCmd := &cobra.Command{
		Use:   commandCrawl,
		Short: "按版本目录离线镜像全部资源",
		Args:  cobra.NoArgs,
		RunE:  selectCommand(commandCrawl),
	}
	crawlCmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "版本目录文件，覆盖配置中的 Crawler.Catalog")
	crawlCmd.Flags().IntVar(&opts.workers, "workers", 0, "单个构建阶段内的并发数，覆盖 CrawlWorkers")

	root.AddCommand(serveCmd, crawlCmd)
	return root
}

// runServe 遵循“配置 → 源站规则 → 磁盘缓存 → 回源执行器 → Fiber server”顺序装配，
// 所有请求共享同一份缓存、路径锁与单飞表。
func runServe(ctx context.Context, cfg *config.Config, opts cliOptions, logger *logrus.Logger) error {
	if len(cfg.Origins) == 0 {
		return errors.New("配置中没有任何 Origin 规则")
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return fmt.Errorf("构建源站规则失败: %w", err)
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	executor := newExecutor(cfg, logger).WithTimeout(cfg.Global.ProxyTimeout.DurationValue())
	gate := flight.NewGate()
	proxyHandler := proxy.NewHandler(store, executor, gate, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, registry, gate)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = config.OriginSummary(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号，正在关闭服务")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort))
}

// runCrawl 按版本目录顺序镜像资源，结束后输出汇总；未完成的资源留待下次运行。
func runCrawl(ctx context.Context, cfg *config.Config, opts cliOptions, logger *logrus.Logger) error {
	if !cfg.Crawler.Enabled() {
		return errors.New("配置中缺少 [Crawler] 段")
	}
	profile, ok := layout.Resolve(cfg.Crawler.Layout)
	if !ok {
		return fmt.Errorf("未注册布局: %s", cfg.Crawler.Layout)
	}

	catalogPath := cfg.Crawler.Catalog
	if opts.catalogPath != "" {
		catalogPath = opts.catalogPath
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return err
	}
	if err := cat.Validate(profile); err != nil {
		return err
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	idx, err := index.Open(indexDir(cfg), cfg.Crawler.Upstream, logger)
	if err != nil {
		return fmt.Errorf("打开校验索引失败: %w", err)
	}

	workers := cfg.Global.CrawlWorkers
	if opts.workers > 0 {
		workers = opts.workers
	}

	c, err := crawler.New(crawler.Options{
		Executor:    newExecutor(cfg, logger),
		Index:       idx,
		Store:       store,
		Profile:     profile,
		Game:        cfg.Crawler.Game,
		Upstream:    cfg.Crawler.Upstream,
		Workers:     workers,
		MaxAttempts: cfg.Global.MaxRetries,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fields := logging.BaseFields("crawl", opts.configPath)
	fields["catalog"] = catalogPath
	fields["layout"] = profile.Key
	fields["versions"] = len(cat.Versions)
	fields["stages"] = cat.StageCount()
	fields["workers"] = workers
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("开始离线爬取")

	report, err := c.Run(ctx, cat)
	if err != nil {
		logger.WithFields(report.Fields()).WithError(err).Warn("crawl_aborted")
		return err
	}
	if unresolved := report.Unresolved(); unresolved > 0 {
		logger.WithField("unresolved", unresolved).Warn("部分资源未完成，下次运行会重试")
	}
	return nil
}

// newExecutor 构造共享 HTTP 客户端的回源执行器，单次尝试超时取 FetchTimeout。
func newExecutor(cfg *config.Config, logger *logrus.Logger) *fetch.Executor {
	return fetch.NewExecutor(fetch.Options{
		Client:     server.NewUpstreamClient(cfg),
		Logger:     logger,
		Locks:      cache.NewPathLocker(),
		RetryDelay: cfg.Global.RetryDelay.DurationValue(),
		Timeout:    cfg.Global.FetchTimeout.DurationValue(),
		UserAgent:  cfg.Global.UserAgent,
	})
}

// indexDir 返回校验索引目录：<StoragePath>/md5/<game>。
func indexDir(cfg *config.Config) string {
	return filepath.Join(cfg.Global.StoragePath, config.IndexDirName, cfg.Crawler.Game)
}
