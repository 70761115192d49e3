/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package admission implements the admission gate (C6): a global
// counting semaphore bounding concurrent compute so that
// permits*intra_threads never oversubscribes the physical cores, plus
// the deadline ladder and the permit-before-slot ordering the
// handlers must follow.
package admission

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/apperrors"
)

// Gate bounds concurrent compute to a fixed permit count.
type Gate struct {
	sem     *semaphore.Weighted
	permits int
}

// New constructs a Gate with the given permit count. A non-positive
// count is raised to 1: the gate must always admit at least one
// request at a time.
func New(permits int) *Gate {
	if permits < 1 {
		permits = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(permits)), permits: permits}
}

// ComputePermits derives the default permit count from probed CPU
// topology, per §4.6: permits = max(1, physicalCores/intraThreads),
// guaranteeing permits*intraThreads <= physicalCores.
func ComputePermits(physicalCores, intraThreads int) int {
	if intraThreads < 1 {
		intraThreads = 1
	}
	permits := physicalCores / intraThreads
	if permits < 1 {
		permits = 1
	}
	return permits
}

// Permits returns the gate's configured permit count.
func (g *Gate) Permits() int { return g.permits }

// Acquire waits up to timeout for a permit. On success it returns a
// release function the caller must invoke exactly once, on every exit
// path, before returning from the handler (the permit-before-slot
// ordering requires the permit to stay held across the pool
// acquisition and the blocking compute). On timeout it returns a
// Resource error mapping to HTTP 503.
func (g *Gate) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.sem.Acquire(deadlineCtx, 1); err != nil {
		klog.FromContext(ctx).Info("admission gate overloaded", "timeout", timeout)
		return nil, apperrors.New(apperrors.Resource, "overloaded")
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		g.sem.Release(1)
	}
	return release, nil
}
