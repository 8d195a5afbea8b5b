// Package replstate holds replication state (spec C4): role, primary
// coordinates, the generated replication id, and the registry of connected
// replicas. Like the keyspace, this is owned exclusively by the event loop.
package replstate

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Role is the server's position in a replication topology.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// ReplicaInfo describes one registered replica. LastACK is additive beyond
// spec.md's own field list (see SPEC_FULL.md §4, grounded on the original
// Rust source's replication_config.rs). It is recorded only; Info() does
// not print it or any lag figure, and nothing uses it for correctness.
type ReplicaInfo struct {
	Addr    string
	Offset  int64
	LastACK int64 // unix nanos of last REPLCONF ACK, 0 if none yet
}

// State is the replication state machine for a single node.
type State struct {
	role Role

	primaryHost string
	primaryPort int

	replicationID     string
	replicationOffset int64 // reserved; always 0 in this spec (§9)

	replicaOrder []string // insertion order of addrs, for stable INFO output
	replicas     map[string]*ReplicaInfo
}

// New returns a State in the primary role with a freshly generated
// replication id.
func New() *State {
	return &State{
		role:          RolePrimary,
		replicationID: generateReplicationID(),
		replicas:      make(map[string]*ReplicaInfo),
	}
}

// generateReplicationID returns a 40-character random hex string, per
// spec §3. Grounded on the teacher's replication.generateReplID, which also
// uses crypto/rand; the real Redis wire format for a replication id is
// itself 40 lowercase hex characters, which a generic UUID library cannot
// produce (UUIDs are 32 hex characters with fixed dash placement), so this
// stays on crypto/rand + hex encoding rather than an external id library.
func generateReplicationID() string {
	b := make([]byte, 20) // 20 bytes -> 40 hex characters
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the OS entropy source is broken; there is
		// no sane fallback that preserves the "random" invariant, so panic
		// rather than hand out a predictable replication id.
		panic(fmt.Sprintf("replstate: crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%x", b)
}

// SetReplicaOf transitions this node into the replica role with the given
// primary coordinates.
func (s *State) SetReplicaOf(host string, port int) {
	s.role = RoleReplica
	s.primaryHost = host
	s.primaryPort = port
}

// PromoteToPrimary transitions this node back to the primary role, used
// when a replica's handshake with its configured primary fails (spec §4.8:
// "the process logs and continues as a standalone primary").
func (s *State) PromoteToPrimary() {
	s.role = RolePrimary
	s.primaryHost = ""
	s.primaryPort = 0
}

// Role returns the current role.
func (s *State) Role() Role { return s.role }

// ReplicationID returns this node's 40-character replication id.
func (s *State) ReplicationID() string { return s.replicationID }

// ReplicationOffset returns the monotonic replicated-byte count, reserved
// for future partial-resync work and held at 0 in this spec (§9).
func (s *State) ReplicationOffset() int64 { return s.replicationOffset }

// PrimaryAddr returns the configured primary's host and port; valid only
// when Role() == RoleReplica.
func (s *State) PrimaryAddr() (host string, port int) {
	return s.primaryHost, s.primaryPort
}

// RegisterReplica adds addr to the replica registry if not already present,
// preserving insertion order. A given peer address appears at most once.
func (s *State) RegisterReplica(addr string) {
	if _, exists := s.replicas[addr]; exists {
		return
	}
	s.replicas[addr] = &ReplicaInfo{Addr: addr}
	s.replicaOrder = append(s.replicaOrder, addr)
}

// UnregisterReplica removes addr from the registry, if present.
func (s *State) UnregisterReplica(addr string) {
	if _, exists := s.replicas[addr]; !exists {
		return
	}
	delete(s.replicas, addr)
	for i, a := range s.replicaOrder {
		if a == addr {
			s.replicaOrder = append(s.replicaOrder[:i], s.replicaOrder[i+1:]...)
			break
		}
	}
}

// UpdateReplicaOffset records the last-acknowledged offset for addr.
func (s *State) UpdateReplicaOffset(addr string, offset int64) {
	if r, ok := s.replicas[addr]; ok {
		r.Offset = offset
	}
}

// UpdateReplicaACK records both the acknowledged offset and the wall-clock
// time it arrived at, for addr. Called when a REPLCONF ACK <offset> command
// arrives on a stream-mode connection. LastACK is stored but not shown by
// Info(), which reports only the offset (see SPEC_FULL.md §4).
func (s *State) UpdateReplicaACK(addr string, offset int64) {
	if r, ok := s.replicas[addr]; ok {
		r.Offset = offset
		r.LastACK = time.Now().UnixNano()
	}
}

// ListReplicas returns registered replicas in registration order.
func (s *State) ListReplicas() []ReplicaInfo {
	out := make([]ReplicaInfo, 0, len(s.replicaOrder))
	for _, addr := range s.replicaOrder {
		out = append(out, *s.replicas[addr])
	}
	return out
}

// Info renders the human-readable block used by INFO replication (spec
// §4.4).
func (s *State) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "role:%s\r\n", infoRoleName(s.role))

	if s.role == RolePrimary {
		fmt.Fprintf(&b, "master_replid:%s\r\n", s.replicationID)
		fmt.Fprintf(&b, "master_repl_offset:%d\r\n", s.replicationOffset)
		fmt.Fprintf(&b, "connected_slaves:%d\r\n", len(s.replicaOrder))
		for i, addr := range s.replicaOrder {
			host, port := splitAddr(addr)
			r := s.replicas[addr]
			fmt.Fprintf(&b, "slave%d:ip=%s,port=%s,state=online,offset=%d\r\n", i, host, port, r.Offset)
		}
	} else {
		fmt.Fprintf(&b, "master_host:%s\r\n", s.primaryHost)
		fmt.Fprintf(&b, "master_port:%d\r\n", s.primaryPort)
		fmt.Fprintf(&b, "master_link_status:up\r\n")
	}

	return b.String()
}

func infoRoleName(r Role) string {
	if r == RolePrimary {
		return "master"
	}
	return "slave"
}

func splitAddr(addr string) (host, port string) {
	idx := strings.LastIndexByte(addr, ':')
	if idx == -1 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}
