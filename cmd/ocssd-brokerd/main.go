// Command ocssd-brokerd runs the node-local OCSSD resource broker.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ocssd "github.com/andiry/ocssd-broker"
	"github.com/andiry/ocssd-broker/devsim"
	"github.com/andiry/ocssd-broker/internal/config"
	"github.com/andiry/ocssd-broker/internal/directory"
	"github.com/andiry/ocssd-broker/internal/interfaces"
	"github.com/andiry/ocssd-broker/internal/logging"
	"github.com/andiry/ocssd-broker/internal/persist"
)

func main() {
	root := &cobra.Command{
		Use:   "ocssd-brokerd",
		Short: "Node-local Open-Channel SSD resource broker",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Scan devices, open the listening socket, and serve alloc/IO requests",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 0, "listening port (default: the broker's MessagePort)")
	serveCmd.Flags().String("iface-prefix", "", "host interface prefix for IP discovery (default: eno1)")
	serveCmd.Flags().String("iface-override", "", "skip discovery, bind this address instead")
	serveCmd.Flags().Uint32("shared-pool-size", 0, "channels carved into the shared pool (default: 4)")
	serveCmd.Flags().String("device-scan-prefix", "", "device path prefix to scan (default: /dev/nvme)")
	serveCmd.Flags().Int("device-scan-count", 0, "number of device indices to probe")
	serveCmd.Flags().Int("workers", 0, "reactor worker pool size")
	serveCmd.Flags().Bool("send-io-status", false, "emit the optional one-byte write/erase status reply")
	serveCmd.Flags().String("metrics-addr", "", "address to serve Prometheus /metrics on, alongside the built-in counters (empty disables)")
	serveCmd.Flags().String("persist-dir", "", "Badger journal directory (empty disables persistence)")
	serveCmd.Flags().Bool("sim", true, "use the in-memory device simulator instead of real hardware")
	serveCmd.Flags().Bool("verbose", false, "enable debug logging")
	root.AddCommand(serveCmd)

	geometryCmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the simulated device geometry serve --sim would register",
		Run:   runGeometry,
	}
	root.AddCommand(geometryCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func flagConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()

	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("iface-prefix"); v != "" {
		cfg.InterfacePrefix = v
	}
	if v, _ := cmd.Flags().GetString("iface-override"); v != "" {
		cfg.InterfaceOverride = v
	}
	if v, _ := cmd.Flags().GetUint32("shared-pool-size"); v != 0 {
		cfg.SharedPoolSize = v
	}
	if v, _ := cmd.Flags().GetString("device-scan-prefix"); v != "" {
		cfg.DeviceScanPrefix = v
	}
	if v, _ := cmd.Flags().GetInt("device-scan-count"); v != 0 {
		cfg.DeviceScanCount = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v != 0 {
		cfg.WorkerCount = v
	}
	cfg.SendIOStatus, _ = cmd.Flags().GetBool("send-io-status")
	cfg.PersistDir, _ = cmd.Flags().GetString("persist-dir")

	return cfg
}

// simGeometry matches the end-to-end scenarios in spec.md §8: 8 channels,
// 4 LUNs per channel, 100 blocks per LUN.
func simGeometry() interfaces.Geometry {
	return interfaces.Geometry{
		NChannels:       8,
		NLunsPerChannel: 4,
		NPlanes:         1,
		NBlocksPerLun:   100,
		NPages:          4,
		NSectors:        1,
		PageBytes:       4096,
		SectorBytes:     512,
		MetaBytes:       16,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := flagConfig(cmd)

	logCfg := logging.DefaultConfig()
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logCfg)
	logging.SetDefault(logger)

	opts := ocssd.Options{
		Directory: directory.NoOp{},
		Persist:   persist.NoOp{},
		Logger:    logger,
		Observer:  ocssd.NewMetricsObserver(ocssd.NewMetrics()),
	}

	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		reg := prometheus.NewRegistry()
		promObserver := ocssd.NewPrometheusObserver("ocssd_broker", reg)
		opts.Observer = ocssd.NewMultiObserver(opts.Observer, promObserver)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "addr", metricsAddr, "error", err)
			}
		}()
		logger.Info("serving prometheus metrics", "addr", metricsAddr)
	}

	if cfg.PersistDir != "" {
		store, err := persist.OpenBadger(cfg.PersistDir)
		if err != nil {
			logger.Error("failed to open persistence journal", "dir", cfg.PersistDir, "error", err)
			return err
		}
		opts.Persist = store
		defer store.Close()
	}

	useSim, _ := cmd.Flags().GetBool("sim")
	if !useSim {
		return ocssd.NewError("ocssd-brokerd.serve", ocssd.ConfigError, "real OCSSD device adapter is out of scope; run with --sim")
	}
	g := simGeometry()
	opts.Opener = devsim.NewOpener(g, g.NPages*g.PageBytes)

	srv, err := ocssd.New(cfg, opts)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		return err
	}

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		srv.Shutdown()
	}()

	logger.Info("broker starting", "ip", srv.IP(), "port", cfg.Port)
	if err := srv.Serve(); err != nil {
		logger.Error("serve exited with error", "error", err)
		return err
	}
	logger.Info("broker stopped cleanly")
	return nil
}

func runGeometry(cmd *cobra.Command, args []string) {
	g := simGeometry()
	fmt.Printf("channels=%d luns_per_channel=%d blocks_per_lun=%d page_bytes=%d\n",
		g.NChannels, g.NLunsPerChannel, g.NBlocksPerLun, g.PageBytes)
}
