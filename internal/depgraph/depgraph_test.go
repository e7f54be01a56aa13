package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopoOrderRespectsDependencies(t *testing.T) {
	dg := New()
	dg.AddDependency("app", "lib")
	dg.AddDependency("lib", "core")

	order, err := dg.TopoOrder()
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	require.Less(t, pos["core"], pos["lib"])
	require.Less(t, pos["lib"], pos["app"])
}

func TestTopoOrderDetectsCycle(t *testing.T) {
	dg := New()
	dg.AddDependency("a", "b")
	dg.AddDependency("b", "c")
	dg.AddDependency("c", "a")

	require.True(t, dg.HasCycle())
	_, err := dg.TopoOrder()
	require.Error(t, err)
}

func TestIndependentMembersAnyOrder(t *testing.T) {
	dg := New()
	dg.AddDependency("web", "shared")
	dg.AddDependency("worker", "shared")

	order, err := dg.TopoOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)
}
