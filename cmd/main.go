package main

import (
	"Speedtest_Go/internal/config"
	"Speedtest_Go/internal/engine"
	"Speedtest_Go/internal/output"
	"Speedtest_Go/internal/results"
	"Speedtest_Go/internal/server"
	"Speedtest_Go/internal/util"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"go.uber.org/multierr"
)

//go:embed default_config.yaml
var defaultConfigData []byte

//go:embed locations.json
var defaultLocationsData []byte

var (
	flagServe  = flag.Bool("serve", false, "以 Web 模式运行")
	flagPort   = flag.Int("port", 8080, "Web 模式监听的端口")
	flagDir    = flag.String("dir", "", "配置文件和结果文件所在目录，默认为可执行文件所在目录")
	flagFormat = flagx.Enum{
		Options: []string{"human", "simple", "csv", "json"},
		Value:   "human",
	}
	flagCSVDelimiter = flag.String("csv-delimiter", ",", "CSV 输出的分隔符，必须是单个字符")
	flagCSVHeader    = flag.Bool("csv-header", false, "只输出 CSV 表头")
	flagList         = flag.Bool("list", false, "按距离列出所有测速服务器后退出")
	flagExclude      flagx.StringArray
	flagServer       flagx.StringArray
	flagMini         = flag.String("mini", "", "Speedtest Mini 服务器地址")
	flagNoDownload   = flag.Bool("no-download", false, "跳过下载测试")
	flagNoUpload     = flag.Bool("no-upload", false, "跳过上传测试")
	flagSecure       = flag.Bool("secure", false, "获取配置和服务器列表时使用 https")
	flagSave         = flag.Bool("save", false, "同时把结果写入 result.json 和 result.csv")
	flagDebug        = flag.Bool("debug", false, "输出调试日志")
)

func init() {
	flag.Var(&flagFormat, "format", `输出格式: "human", "simple", "csv" 或 "json"`)
	flag.Var(&flagExclude, "exclude", "排除的服务器 ID，可重复或用逗号分隔")
	flag.Var(&flagServer, "server", "只在这些服务器 ID 中选择，可重复或用逗号分隔")
}

// ensureFile 检查文件是否存在于 dir，如果不存在，则使用提供的默认数据创建它。
func ensureFile(dir, fileName string, defaultData []byte) (string, error) {
	filePath := filepath.Join(dir, fileName)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := os.WriteFile(filePath, defaultData, 0644); err != nil {
			return "", fmt.Errorf("无法写入默认文件 %s: %w", fileName, err)
		}
		util.S.Infow("首次运行，已生成默认文件", "dir", dir, "file", fileName)
	} else if err != nil {
		return "", fmt.Errorf("检查文件 %s 时出错: %w", fileName, err)
	}
	return filePath, nil
}

// workDir 返回配置文件所在目录
func workDir() (string, error) {
	if *flagDir != "" {
		if err := os.MkdirAll(*flagDir, 0755); err != nil {
			return "", fmt.Errorf("无法创建目录 '%s': %w", *flagDir, err)
		}
		return *flagDir, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("无法获取可执行文件路径: %w", err)
	}
	return filepath.Dir(exePath), nil
}

func parseDelimiter(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("CSV 分隔符必须是单个字符: %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func parseIDs(values flagx.StringArray) ([]int, error) {
	var ids []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("无效的服务器 ID %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// applyFlags 用命令行参数覆盖配置文件中的值
func applyFlags(cfg *config.Config) error {
	exclude, err := parseIDs(flagExclude)
	if err != nil {
		return err
	}
	cfg.ExcludeIDs = append(cfg.ExcludeIDs, exclude...)

	servers, err := parseIDs(flagServer)
	if err != nil {
		return err
	}
	if len(servers) > 0 {
		cfg.ServerIDs = servers
	}
	if *flagMini != "" {
		cfg.MiniURL = *flagMini
	}
	cfg.NoDownload = cfg.NoDownload || *flagNoDownload
	cfg.NoUpload = cfg.NoUpload || *flagNoUpload
	cfg.Secure = cfg.Secure || *flagSecure
	return cfg.Normalize()
}

func writeOutput(w io.Writer, format string, suite *results.Suite, csvOpts output.CSVOptions) error {
	switch format {
	case "json":
		return output.WriteJSON(w, suite)
	case "csv":
		return output.WriteCSV(w, suite, csvOpts)
	case "simple":
		return output.WriteSimple(w, suite)
	default:
		return output.WriteHuman(w, suite)
	}
}

// saveResults 把结果写入 dir 下的 result.json 和 result.csv，两个文件互不影响
func saveResults(dir string, suite *results.Suite, csvOpts output.CSVOptions) error {
	csvOpts.Header = true
	return multierr.Combine(
		output.WriteJSONFile(filepath.Join(dir, "result.json"), suite),
		output.WriteCSVFile(filepath.Join(dir, "result.csv"), suite, csvOpts),
	)
}

func listServers(ctx context.Context, cfg *config.Config, locationsPath string, w io.Writer) error {
	endpoints, client, err := engine.ListServers(ctx, cfg, locationsPath)
	if err != nil {
		return err
	}
	for _, ep := range endpoints {
		if _, err := fmt.Fprintf(w, "%s [%.2f km]\n", ep, ep.Distance(client.Point)); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, stdout, stderr io.Writer) error {
	delimiter, err := parseDelimiter(*flagCSVDelimiter)
	if err != nil {
		return err
	}
	csvOpts := output.CSVOptions{Delimiter: delimiter}
	if *flagCSVHeader {
		csvOpts.Header = true
		return output.WriteCSV(stdout, nil, csvOpts)
	}

	// 确保所有必需的文件都存在
	dir, err := workDir()
	if err != nil {
		return err
	}
	cfgPath, err := ensureFile(dir, "config.yaml", defaultConfigData)
	if err != nil {
		return fmt.Errorf("初始化配置文件失败: %w", err)
	}
	locationsPath, err := ensureFile(dir, "locations.json", defaultLocationsData)
	if err != nil {
		return fmt.Errorf("初始化 locations.json 失败: %w", err)
	}

	if *flagServe {
		return server.Start(*flagPort, cfgPath, locationsPath, dir)
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("加载配置文件失败: %w", err)
	}
	if err := applyFlags(cfg); err != nil {
		return err
	}

	if *flagList {
		return listServers(ctx, cfg, locationsPath, stdout)
	}

	// 只有 human 格式在终端上显示进度
	progressCallback := func(message string) {
		if flagFormat.Value == "human" {
			fmt.Fprintln(stderr, message)
		}
	}
	suite, err := engine.Run(ctx, cfg, locationsPath, progressCallback)
	if err != nil {
		return fmt.Errorf("引擎运行时出错: %w", err)
	}

	err = writeOutput(stdout, flagFormat.Value, suite, csvOpts)
	if *flagSave {
		err = multierr.Append(err, saveResults(dir, suite, csvOpts))
	}
	return err
}

func main() {
	flag.Parse()
	util.SetupLog(*flagDebug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rtx.Must(run(ctx, os.Stdout, os.Stderr), "运行失败")
}
