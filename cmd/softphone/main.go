package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cicareteam/callcore/internal/call"
	"github.com/cicareteam/callcore/internal/config"
	"github.com/cicareteam/callcore/internal/events"
	"github.com/cicareteam/callcore/internal/logger"
	"github.com/cicareteam/callcore/internal/media/pion"
	"github.com/cicareteam/callcore/internal/setup"
	"github.com/cicareteam/callcore/internal/signaling"
	"github.com/cicareteam/callcore/internal/telephony"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	slog.Info("Starting softphone",
		"setup_url", cfg.SetupURL,
		"local_id", cfg.LocalID,
		"device", cfg.DeviceID,
	)

	engine, err := pion.New(pion.Config{ICEServers: cfg.ICEServers})
	if err != nil {
		slog.Error("Failed to create media engine", "error", err)
		os.Exit(1)
	}

	setupClient := setup.NewClient(cfg.SetupURL, cfg.APIKey)
	keys := setup.NewKeyManager(setupClient)
	defer keys.Close()

	adapter := telephony.NewAdapter(telephony.Hooks{})

	publisher := events.NewMultiPublisher(
		events.NewLoggingPublisher(slog.Default()),
	)

	controller, err := call.NewController(call.Config{
		Local:     call.Peer{ID: cfg.LocalID, Name: cfg.LocalName},
		DeviceID:  cfg.DeviceID,
		Telephony: adapter,
		Media:     engine,
		Setup:     setupClient,
		Router:    setup.NewDecoder(keys),
		Channels: func(server, token string, hooks signaling.Hooks) call.SignalChannel {
			return signaling.NewChannel(server, token, signaling.DefaultConfig(), hooks)
		},
		Publisher:   publisher,
		RingTimeout: cfg.RingTimeout,
	})
	if err != nil {
		slog.Error("Failed to create call controller", "error", err)
		os.Exit(1)
	}
	defer controller.Close()
	adapter.SetSink(controller)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down", "signal", sig)
		controller.Close()
		os.Exit(0)
	}()

	repl(controller, adapter)
}

// repl drives the controller from stdin. One command per line.
func repl(controller *call.Controller, adapter *telephony.Adapter) {
	fmt.Println("commands: call <id> <checksum> | incoming <caller> <routing> | answer | end | mute | unmute | hold | unhold | status | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <id> [checksum]")
				break
			}
			checksum := ""
			if len(fields) > 2 {
				checksum = fields[2]
			}
			info, err := controller.StartOutgoingCall(ctx, call.Peer{ID: fields[1], Name: fields[1]}, checksum)
			report(info, err)
		case "incoming":
			if len(fields) < 3 {
				fmt.Println("usage: incoming <caller> <routing-blob>")
				break
			}
			info, err := controller.ReportIncomingCall(ctx, call.Peer{ID: fields[1], Name: fields[1]}, fields[2])
			report(info, err)
		case "answer":
			reportAction(adapter.Answer(ctx))
		case "end":
			reportAction(adapter.End(ctx))
		case "mute":
			reportAction(adapter.SetMuted(ctx, true))
		case "unmute":
			reportAction(adapter.SetMuted(ctx, false))
		case "hold":
			reportAction(adapter.SetHeld(ctx, true))
		case "unhold":
			reportAction(adapter.SetHeld(ctx, false))
		case "status":
			if info, ok := controller.Current(); ok {
				fmt.Printf("%s %s %s\n", info.ID, info.Direction, info.Status)
			} else {
				fmt.Println("idle")
			}
		case "quit":
			cancel()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
		cancel()
	}
}

func report(info call.Info, err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%s %s %s\n", info.ID, info.Direction, info.Status)
}

func reportAction(err error) {
	if err != nil {
		fmt.Println("error:", err)
	}
}
