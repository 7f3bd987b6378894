package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/storage"
)

// 向量库巡检工具：查看集合点数、列举某文档的分块、删除某文档的向量
var (
	configPath   string
	command      string
	documentUUID string
)

func main() {
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.StringVar(&command, "cmd", "count", "执行的命令: count=集合点数, list=列举文档分块, delete=删除文档向量")
	pflag.StringVar(&documentUUID, "uuid", "", "文档UUID (list/delete必填)")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logger.Config{Level: "warn", Format: "pretty"})

	qdrant, err := storage.NewQdrant(&cfg.Qdrant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "连接Qdrant失败: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch command {
	case "count":
		count, err := qdrant.CountPoints(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "查询点数失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("集合 %s 共 %d 个向量点\n", cfg.Qdrant.Collection, count)

	case "list":
		requireUUID()
		chunks, err := qdrant.ListChunksByDocument(ctx, documentUUID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "列举分块失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("文档 %s 共 %d 个分块:\n", documentUUID, len(chunks))
		for _, c := range chunks {
			out, _ := json.Marshal(map[string]interface{}{
				"point_id":    c.PointID,
				"chunk_index": c.ChunkIndex,
				"chars":       len([]rune(c.Text)),
				"preview":     preview(c.Text, 60),
			})
			fmt.Println(string(out))
		}

	case "delete":
		requireUUID()
		if err := qdrant.DeleteByDocument(ctx, documentUUID); err != nil {
			fmt.Fprintf(os.Stderr, "删除失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("文档 %s 的向量点已删除\n", documentUUID)

	default:
		fmt.Fprintf(os.Stderr, "错误: 未知命令 '%s'。支持的命令: count, list, delete\n", command)
		pflag.Usage()
		os.Exit(1)
	}
}

func requireUUID() {
	if documentUUID == "" {
		fmt.Fprintln(os.Stderr, "错误: 该命令需要 --uuid 参数")
		os.Exit(1)
	}
}

func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
