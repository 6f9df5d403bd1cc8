package main

import (
	"context"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/ferrovia/taskshim/internal/shim/manager"
)

func main() {
	ctx := context.Background()
	shim.Run(ctx, manager.NewShimManager("io.containerd.runc.v2"))
}
