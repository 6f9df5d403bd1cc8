package process

import (
	"github.com/containerd/cgroups/v3/cgroup2/stats"
	"google.golang.org/protobuf/proto"
)

// marshalMetrics serializes cgroup metrics the way the task service expects
// to hand them back: as an opaque, typed protobuf blob (the manager decodes
// it via typeurl on its side), rather than this package depending on the
// manager's wire types directly.
func marshalMetrics(m *stats.Metrics) []byte {
	b, err := proto.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
