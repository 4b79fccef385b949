package raft

import "time"

// ServerConfig is the opaque, already-parsed configuration the core is
// bootstrapped with. Parsing the on-disk HOCON/YAML representation into
// this shape happens upstream of the core, in the operational shell.
type ServerConfig struct {
	// ClusterName identifies the cluster this server belongs to.
	ClusterName string

	// LocalNode is this process's own id and address.
	LocalNode NodeInfo

	// Members is the initial, static view of the cluster. The Node
	// Selector is reset from this slice whenever the observed leader
	// changes.
	Members []NodeInfo

	// DataDir is the root directory for the log segment files, snapshot
	// files, and the metadata file.
	DataDir string

	// SegmentMaxEntries and SegmentMaxBytes bound a single log segment
	// file before the Log Store rolls to a new one.
	SegmentMaxEntries int
	SegmentMaxBytes   int64

	// ElectionTimeoutMin/Max bound the randomized follower election
	// timeout used to avoid split votes.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// HeartbeatInterval is how often a leader sends empty AppendRequests
	// to followers that have nothing new to replicate.
	HeartbeatInterval time.Duration

	// RequestTimeout bounds a single outbound peer RPC (append, install,
	// vote, or forwarded query).
	RequestTimeout time.Duration

	// SnapshotThreshold is how many committed entries may accumulate past
	// the last local snapshot before the server takes another one and
	// compacts the log prefix it covers.
	SnapshotThreshold uint64

	// SnapshotCheckInterval is how often the server checks whether
	// SnapshotThreshold has been crossed.
	SnapshotCheckInterval time.Duration

	// InstallChunkSize bounds a single Install RPC's payload when the
	// leader streams a snapshot to a follower that has fallen behind the
	// log's retained prefix.
	InstallChunkSize int
}

// DefaultConfig returns a ServerConfig populated with the same timing
// constants used across the test harness, for callers that only care about
// overriding ClusterName, LocalNode, Members and DataDir.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		SegmentMaxEntries: 4096,
		SegmentMaxBytes:   64 << 20,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		RequestTimeout:     500 * time.Millisecond,

		SnapshotThreshold:     8192,
		SnapshotCheckInterval: 5 * time.Second,
		InstallChunkSize:      32 << 10,
	}
}
