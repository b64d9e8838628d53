// tabminald is the terminal-broker daemon: it owns the Session Registry,
// serves the REST/WS attach surface, and optionally an SSH attach
// surface and a Tailscale mesh listener.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trybotster/tabminal/internal/config"
	"github.com/trybotster/tabminal/internal/httpapi"
	"github.com/trybotster/tabminal/internal/meshnet"
	"github.com/trybotster/tabminal/internal/prober"
	"github.com/trybotster/tabminal/internal/qrcode"
	"github.com/trybotster/tabminal/internal/registry"
	"github.com/trybotster/tabminal/internal/sshattach"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	logFile, err := os.Create("/tmp/tabminald.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logLevel := slog.LevelInfo
	if os.Getenv("TABMINAL_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:     "tabminald",
		Short:   "Multi-tab terminal broker daemon",
		Version: Version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the terminal broker",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE:  runConfig,
	}
	rootCmd.AddCommand(configCmd)

	jsonGetCmd := &cobra.Command{
		Use:   "json-get <key>",
		Short: "Get a configuration value by dot notation path (e.g. 'mesh.enabled')",
		Args:  cobra.ExactArgs(1),
		RunE:  runJSONGet,
	}
	rootCmd.AddCommand(jsonGetCmd)

	jsonSetCmd := &cobra.Command{
		Use:   "json-set <key> <value>",
		Short: "Set a configuration value by dot notation path",
		Args:  cobra.ExactArgs(2),
		RunE:  runJSONSet,
	}
	rootCmd.AddCommand(jsonSetCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	logger.Info("starting tabminald", "version", Version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	probeInterval := prober.DefaultInterval
	if cfg.ProbeIntervalSeconds > 0 {
		probeInterval = time.Duration(cfg.ProbeIntervalSeconds) * time.Second
	}
	reg := registry.New(registry.Config{
		DefaultShell:  cfg.DefaultShell,
		HistoryBytes:  cfg.HistoryBytes,
		ProbeInterval: probeInterval,
		Logger:        logger,
	})

	// The registry starts with zero sessions; Create one immediately to
	// satisfy the "at least one session exists" invariant.
	if _, err := reg.Create(); err != nil {
		return fmt.Errorf("failed to create initial session: %w", err)
	}
	defer reg.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var listener net.Listener
	attachURL := "http://localhost" + cfg.BindAddr

	if cfg.Mesh.Enabled {
		node, err := meshnet.New(meshnet.Config{
			NodeID:     "tabminald",
			ControlURL: cfg.Mesh.ControlURL,
			AuthKey:    cfg.Mesh.AuthKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure mesh: %w", err)
		}
		if err := node.Start(ctx); err != nil {
			logger.Warn("mesh connect failed, falling back to plain listener", "error", err)
		} else {
			defer node.Close()
			listener, err = node.Listen("tcp", cfg.BindAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on mesh: %w", err)
			}
			if ips := node.IPs(); len(ips) > 0 {
				attachURL = "http://" + ips[0] + cfg.BindAddr
			}
		}
	}
	if listener == nil {
		listener, err = net.Listen("tcp", cfg.BindAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.BindAddr, err)
		}
	}

	server := httpapi.New(reg, logger, nil)
	httpSrv := &http.Server{Handler: server.Handler()}
	go func() {
		if err := httpSrv.Serve(listener); err != nil && ctx.Err() == nil {
			logger.Error("http server error", "error", err)
		}
	}()
	defer httpSrv.Close()

	if cfg.SSH.Enabled {
		sshListener, err := net.Listen("tcp", cfg.SSH.Addr)
		if err != nil {
			logger.Warn("ssh attach listener failed", "error", err)
		} else {
			sshSrv := sshattach.New(sshListener, reg, logger)
			go func() {
				if err := sshSrv.Serve(); err != nil && ctx.Err() == nil {
					logger.Error("ssh attach server error", "error", err)
				}
			}()
			defer sshSrv.Close()
		}
	}

	printBanner(attachURL)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func printBanner(attachURL string) {
	fmt.Println("tabminald listening")
	fmt.Println(attachURL)
	for _, line := range qrcode.GenerateLines(attachURL, 60, 30) {
		fmt.Println(line)
	}
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("Bind Addr: %s\n", cfg.BindAddr)
	fmt.Printf("Default Shell: %s\n", cfg.DefaultShell)
	fmt.Printf("History Bytes: %d\n", cfg.HistoryBytes)
	fmt.Printf("Probe Interval: %ds\n", cfg.ProbeIntervalSeconds)
	fmt.Printf("Mesh Enabled: %v\n", cfg.Mesh.Enabled)
	fmt.Printf("SSH Enabled: %v\n", cfg.SSH.Enabled)

	return nil
}

func runJSONGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist")
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	var jsonData map[string]interface{}
	if err := json.Unmarshal(data, &jsonData); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	value := getJSONValue(jsonData, key)
	if value == nil {
		return fmt.Errorf("key not found: %s", key)
	}

	switch v := value.(type) {
	case string:
		fmt.Println(v)
	case float64:
		if v == float64(int64(v)) {
			fmt.Printf("%d\n", int64(v))
		} else {
			fmt.Printf("%v\n", v)
		}
	case bool:
		fmt.Printf("%v\n", v)
	default:
		output, _ := json.Marshal(v)
		fmt.Println(string(output))
	}

	return nil
}

func runJSONSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	var jsonData map[string]interface{}
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := json.Unmarshal(data, &jsonData); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		jsonData = make(map[string]interface{})
	} else {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var parsedValue interface{}
	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		parsedValue = intVal
	} else if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		parsedValue = floatVal
	} else if value == "true" {
		parsedValue = true
	} else if value == "false" {
		parsedValue = false
	} else {
		parsedValue = value
	}

	setJSONValue(jsonData, key, parsedValue)

	output, err := json.MarshalIndent(jsonData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, output, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, parsedValue)
	return nil
}

func getJSONValue(data map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	current := interface{}(data)

	for _, part := range parts {
		switch v := current.(type) {
		case map[string]interface{}:
			var ok bool
			current, ok = v[part]
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}

	return current
}

func setJSONValue(data map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")

	if len(parts) == 1 {
		data[path] = value
		return
	}

	current := data
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, ok := current[part]; !ok {
			current[part] = make(map[string]interface{})
		}
		if nested, ok := current[part].(map[string]interface{}); ok {
			current = nested
		} else {
			return
		}
	}

	current[parts[len(parts)-1]] = value
}
