package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quorumkv/raft/pkg/kvstore"
	"github.com/quorumkv/raft/pkg/raft"
	"github.com/quorumkv/raft/pkg/transport"
	"github.com/quorumkv/raft/pkg/util"
	"github.com/spf13/cobra"
)

var (
	nodeID       string
	bindAddress  string
	metricsAddr  string
	dataDir      string
	clusterName  string
	memberFlags  []string
	logLevel     string
	logJSON      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replicad",
	Short: "replicad runs one member of a replicated key/value cluster",
	Long: `replicad bootstraps the Raft replication core against an
in-process key/value state machine, exposing the append/install/query/vote
RPCs over gRPC and serving Prometheus metrics on a separate listener.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (error, warning, info, verbose, trace)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	util.Init(util.Config{Level: parseLevel(logLevel), Component: "replicad", JSONOutput: logJSON})
}

func parseLevel(s string) util.Level {
	switch strings.ToLower(s) {
	case "error":
		return util.LevelError
	case "warning", "warn":
		return util.LevelWarning
	case "verbose", "debug":
		return util.LevelVerbose
	case "trace":
		return util.LevelTrace
	default:
		return util.LevelInfo
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start this node as a member of the configured cluster",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&nodeID, "node-id", "", "this node's id (required)")
	serveCmd.Flags().StringVar(&bindAddress, "bind", ":7000", "address to serve the replication gRPC service on")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-bind", ":9090", "address to serve Prometheus metrics on")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for log segments, snapshots and metadata")
	serveCmd.Flags().StringVar(&clusterName, "cluster-name", "default", "logical cluster name")
	serveCmd.Flags().StringArrayVar(&memberFlags, "member", nil, "cluster member as id=address, repeatable (required, including self)")
	serveCmd.MarkFlagRequired("node-id")
	serveCmd.MarkFlagRequired("member")
}

func runServe(cmd *cobra.Command, args []string) error {
	members, err := parseMembers(memberFlags)
	if err != nil {
		return err
	}

	var local raft.NodeInfo
	found := false
	for _, m := range members {
		if m.NodeID == raft.NodeID(nodeID) {
			local, found = m, true
		}
	}
	if !found {
		return fmt.Errorf("node-id %q not present in --member list", nodeID)
	}

	config := raft.DefaultConfig()
	config.ClusterName = clusterName
	config.LocalNode = local
	config.Members = members
	config.DataDir = dataDir

	sm := kvstore.NewKVStore()
	serverCtx, err := raft.NewServerContext(config, sm, transport.GRPCPeerProxyFactory{})
	if err != nil {
		return fmt.Errorf("initialize server context: %w", err)
	}

	registry := prometheus.NewRegistry()
	serverCtx.Metrics().Register(registry)

	lis, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddress, err)
	}

	grpcServer := transport.NewGRPCServer()
	transport.RegisterReplicationServer(grpcServer, serverCtx)

	go func() {
		util.WriteInfo("replicad: node %s serving replication on %s", nodeID, bindAddress)
		if err := grpcServer.Serve(lis); err != nil {
			util.Fatalf("grpc server stopped: %v", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		util.WriteInfo("replicad: node %s serving metrics on %s", nodeID, metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			util.Fatalf("metrics server stopped: %v", err)
		}
	}()

	serverCtx.Start()

	select {}
}

// parseMembers turns a repeated --member id=address flag into NodeInfo
// values, in the order given.
func parseMembers(flags []string) ([]raft.NodeInfo, error) {
	members := make([]raft.NodeInfo, 0, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --member %q, expected id=address", f)
		}
		members = append(members, raft.NodeInfo{NodeID: raft.NodeID(parts[0]), Address: parts[1]})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("at least one --member is required")
	}
	return members, nil
}
