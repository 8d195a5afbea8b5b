package replstate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsPrimaryWith40CharHexReplID(t *testing.T) {
	s := New()
	require.Equal(t, RolePrimary, s.Role())
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{40}$`), s.ReplicationID())
}

func TestInfoPrimaryNoReplicas(t *testing.T) {
	s := New()
	info := s.Info()
	require.Contains(t, info, "role:master")
	require.Contains(t, info, "connected_slaves:0")
	require.Regexp(t, regexp.MustCompile(`master_replid:[0-9a-f]{40}`), info)
}

func TestRegisterReplicaIsIdempotentPerAddr(t *testing.T) {
	s := New()
	s.RegisterReplica("127.0.0.1:7001")
	s.RegisterReplica("127.0.0.1:7001")
	s.RegisterReplica("127.0.0.1:7002")

	require.Len(t, s.ListReplicas(), 2)
}

func TestReplicaOrderPreserved(t *testing.T) {
	s := New()
	s.RegisterReplica("a:1")
	s.RegisterReplica("b:2")
	s.RegisterReplica("c:3")
	s.UnregisterReplica("b:2")
	s.RegisterReplica("d:4")

	addrs := make([]string, 0)
	for _, r := range s.ListReplicas() {
		addrs = append(addrs, r.Addr)
	}
	require.Equal(t, []string{"a:1", "c:3", "d:4"}, addrs)
}

func TestSetReplicaOfAndInfo(t *testing.T) {
	s := New()
	s.SetReplicaOf("10.0.0.1", 6380)
	require.Equal(t, RoleReplica, s.Role())

	info := s.Info()
	require.Contains(t, info, "master_host:10.0.0.1")
	require.Contains(t, info, "master_port:6380")
	require.Contains(t, info, "master_link_status:up")
}

func TestUpdateReplicaACKSetsOffsetAndLastACK(t *testing.T) {
	s := New()
	s.RegisterReplica("127.0.0.1:7001")

	s.UpdateReplicaACK("127.0.0.1:7001", 99)

	replicas := s.ListReplicas()
	require.Len(t, replicas, 1)
	require.Equal(t, int64(99), replicas[0].Offset)
	require.NotZero(t, replicas[0].LastACK)
}

func TestPromoteToPrimary(t *testing.T) {
	s := New()
	s.SetReplicaOf("10.0.0.1", 6380)
	s.PromoteToPrimary()
	require.Equal(t, RolePrimary, s.Role())
}
