package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDetectsCycle(t *testing.T) {
	nodes := []string{"t1", "t2", "t3"}
	edges := map[string][]string{
		"t1": {"t2"},
		"t2": {"t3"},
		"t3": {"t1"},
	}
	err := Validate(nodes, edges)
	require.Error(t, err)
	var cycleErr *ErrCycle
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	err := Validate([]string{"t1"}, map[string][]string{"t1": {"t1"}})
	require.Error(t, err)
}

func TestValidateRejectsOutsideReference(t *testing.T) {
	err := Validate([]string{"t1"}, map[string][]string{"t1": {"ghost"}})
	require.Error(t, err)
}

func TestValidateAcceptsChain(t *testing.T) {
	nodes := []string{"t1", "t2", "t3", "t4"}
	edges := map[string][]string{
		"t2": {"t1"},
		"t3": {"t2"},
		"t4": {"t3"},
	}
	require.NoError(t, Validate(nodes, edges))
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	nodes := []string{"t4", "t1", "t3", "t2"}
	edges := map[string][]string{
		"t2": {"t1"},
		"t3": {"t2"},
		"t4": {"t3"},
	}
	order, err := TopoOrder(nodes, edges, func(a, b string) bool { return a < b })
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2", "t3", "t4"}, order)
}
