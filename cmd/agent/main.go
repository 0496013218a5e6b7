// Command agent runs the Local Execution Agent: it dials the Gateway over
// the Action Dispatch Channel, and for every ACTION frame that arrives runs
// it through the security kernel — rate limit, tier classification, path
// jail, operator confirm, audit log — before executing anything on this
// workstation.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openclaw/pkg/audit"
	"openclaw/pkg/channel"
	"openclaw/pkg/config"
	"openclaw/pkg/confirm"
	"openclaw/pkg/logx"
	"openclaw/pkg/proto"
	"openclaw/pkg/security"
)

func main() {
	var agentID string
	flag.StringVar(&agentID, "agent-id", hostnameOrDefault(), "ID this agent identifies itself with")
	flag.Parse()

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		log.Fatalf("agent: loading config: %v", err)
	}

	logger := logx.NewLogger("agent")
	logx.SetDebugConfig(cfg.LogLevel == "DEBUG", false, "")

	auditWriter, err := audit.NewWriter(cfg.AuditLogDir)
	if err != nil {
		log.Fatalf("agent: opening audit log: %v", err)
	}
	defer auditWriter.Close()

	kernel := security.New(cfg, auditWriter)

	dialer := channel.NewDialer(cfg.GatewayURL, cfg.AuthToken, agentID,
		time.Duration(cfg.PingIntervalSeconds)*time.Second,
		time.Duration(cfg.PingTimeoutSeconds)*time.Second,
		time.Duration(cfg.ReconnectDelaySeconds)*time.Second,
		time.Duration(cfg.MaxReconnectDelay)*time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go dialer.Run(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-dialer.Connections():
				if !ok {
					return
				}
				logger.Info("connected to gateway as %s", agentID)
				go handleSession(ctx, ch, kernel, logger)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal %v, shutting down", sig)
	cancel()
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "agent"
	}
	return h
}

// handleSession drains one connected channel until it closes, dispatching
// every ACTION frame to the security kernel and control frames (emergency
// stop, resume) straight to the latch. Each ACTION runs concurrently in its
// own goroutine — the Gateway may have more than one outstanding on the same
// channel, and a slow action must not stall a fast one behind it.
func handleSession(ctx context.Context, ch channel.Channel, kernel *security.Kernel, logger *logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Closed():
			return
		case msg, ok := <-ch.Recv():
			if !ok {
				return
			}
			switch msg.Type {
			case proto.MsgTypeAction:
				go handleAction(ctx, ch, kernel, msg, logger)
			case proto.MsgTypeEmergencyStop:
				kernel.Stop()
			case proto.MsgTypeResume:
				kernel.Resume()
			default:
				logger.Debug("ignoring frame type %s", msg.Type)
			}
		}
	}
}

// handleAction runs one ACTION frame through the kernel and sends the
// result back correlated to it. A CONFIRM-tier action that arrives
// unconfirmed falls back to confirm.Terminal — prompting whoever is sitting
// at this workstation directly — rather than round-tripping the decision
// back through the Gateway, matching the interactive-prompt half of the
// confirm-handling choice the Local Agent is allowed to make on its own.
func handleAction(ctx context.Context, ch channel.Channel, kernel *security.Kernel, msg *proto.ActionMsg, logger *logx.Logger) {
	confirmed := msg.Metadata["confirmed"] == "true"

	result, err := kernel.Execute(ctx, msg.Action, msg.Params, confirmed, confirm.Terminal)
	if err != nil {
		logger.Error("executing action %s: %v", msg.Action, err)
		result = &proto.ActionResult{ExitCode: -1, Err: err.Error()}
	}

	reply := msg.Reply(proto.MsgTypeResult)
	reply.Result = result
	if sendErr := ch.Send(ctx, reply); sendErr != nil {
		logger.Warn("sending result for action %s: %v", msg.Action, sendErr)
	}
}
