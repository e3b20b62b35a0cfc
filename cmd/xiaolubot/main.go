package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/linxiaolu/xiaolubot/pkg/bot"
	"github.com/linxiaolu/xiaolubot/pkg/bus"
	"github.com/linxiaolu/xiaolubot/pkg/channels"
	"github.com/linxiaolu/xiaolubot/pkg/comic"
	"github.com/linxiaolu/xiaolubot/pkg/config"
	"github.com/linxiaolu/xiaolubot/pkg/correlator"
	"github.com/linxiaolu/xiaolubot/pkg/cron"
	"github.com/linxiaolu/xiaolubot/pkg/decision"
	"github.com/linxiaolu/xiaolubot/pkg/napcat"
	"github.com/linxiaolu/xiaolubot/pkg/providers"
	"github.com/linxiaolu/xiaolubot/pkg/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: xiaolubot <command> [args]")
		fmt.Println("Commands: serve, onboard")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "onboard":
		runOnboard()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	workspace := expandPath(cfg.Agent.Workspace)
	utils.SetupLogger(filepath.Join(workspace, "logs"))

	provider, err := providers.NewProvider(cfg)
	if err != nil {
		fmt.Printf("Error initializing provider: %v\n", err)
		fmt.Println("Please run 'xiaolubot onboard' or edit .xiaolubot/config.json")
		os.Exit(1)
	}

	vocab, err := decision.LoadVocabulary(cfg.Agent.VocabularyFile)
	if err != nil {
		fmt.Printf("Error loading action vocabulary: %v\n", err)
		os.Exit(1)
	}

	messageBus := bus.NewMessageBus()

	corr := correlator.New(messageBus,
		time.Duration(cfg.Correlator.TTLSeconds)*time.Second,
		time.Duration(cfg.Correlator.SweepSeconds)*time.Second)
	corr.Start()

	var comicClient comic.Client
	if cfg.Comic.Enabled {
		comicClient = comic.NewGatewayClient(cfg.Comic.BaseURL, expandPath(cfg.Comic.DownloadDir), cfg.Comic.MaxResults)
	}

	engine := decision.NewEngine(provider, cfg.Agent.Model, cfg.Agent.Persona, vocab, comicClient, corr,
		time.Duration(cfg.Correlator.TimeoutSeconds)*time.Second)

	vision := &bot.VisionDescriber{Provider: provider, Model: cfg.Agent.VisionModel}
	dispatcher := bot.NewDispatcher(messageBus, &cfg.Agent, engine, vision)

	// NapCat transport
	adapter := napcat.NewAdapter(&cfg.Adapter, messageBus, corr)
	if err := adapter.Start(); err != nil {
		fmt.Printf("Error starting NapCat adapter: %v\n", err)
		os.Exit(1)
	}
	messageBus.SubscribeOutbound(adapter.Name(), func(p bus.Payload) {
		if err := adapter.Send(p); err != nil {
			log.Printf("NapCat发送失败: %v", err)
		}
	})

	// Optional Telegram channel
	activeChannels := []channels.Channel{}
	if cfg.Channels.Telegram.Enabled {
		tgChannel := channels.NewTelegramChannel(&cfg.Channels.Telegram, messageBus, corr)
		if err := tgChannel.Start(); err != nil {
			fmt.Printf("Error starting Telegram channel: %v\n", err)
		} else {
			activeChannels = append(activeChannels, tgChannel)
			messageBus.SubscribeOutbound(tgChannel.Name(), func(p bus.Payload) {
				if err := tgChannel.Send(p); err != nil {
					log.Printf("Telegram发送失败: %v", err)
				}
			})
		}
	}

	// Scheduled proactive wakes, injected as synthetic group messages.
	var cronService *cron.Service
	if cfg.Cron.Enabled {
		cronService = cron.NewService(expandPath(cfg.Cron.StorePath), func(job cron.Job) {
			channel := job.Wake.Channel
			if channel == "" {
				channel = napcat.ChannelName
			}
			messageBus.PublishInbound(bus.Envelope{
				Channel:          channel,
				ConversationType: "group",
				GroupID:          job.Wake.GroupID,
				SenderID:         "cron",
				SenderName:       "定时提醒",
				SenderRole:       "member",
				Timestamp:        time.Now(),
				MessageID:        "cron:" + job.ID,
				Segments:         []bus.Segment{bus.TextSegment(job.Wake.Message)},
			})
		})
		cronService.Start()
	}

	go messageBus.DispatchOutbound()
	go dispatcher.Run()

	fmt.Println("xiaolubot running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("收到退出信号，开始关闭")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if cronService != nil {
		cronService.Stop()
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Printf("调度器关闭失败: %v", err)
	}
	for _, ch := range activeChannels {
		if err := ch.Stop(); err != nil {
			log.Printf("通道%s关闭失败: %v", ch.Name(), err)
		}
	}
	if err := adapter.Stop(); err != nil {
		log.Printf("NapCat适配器关闭失败: %v", err)
	}
	corr.Stop()
	messageBus.Stop()
	log.Printf("关闭完成")
}

func runOnboard() {
	configDir := ".xiaolubot"
	if err := os.MkdirAll(configDir, 0755); err != nil {
		fmt.Printf("Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	configFile := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("Config file already exists at %s\n", configFile)
		return
	}

	cfg := config.DefaultConfig()
	if abs, err := filepath.Abs(filepath.Join(configDir, "workspace")); err == nil {
		cfg.Agent.Workspace = abs
	}

	file, err := os.Create(configFile)
	if err != nil {
		fmt.Printf("Error creating config file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cfg); err != nil {
		fmt.Printf("Error writing config file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created config file at %s\n", configFile)
}
