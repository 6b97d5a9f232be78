// Package partition computes which rooms a node owns for consumption,
// given the fleet's node list.
package partition

import (
	"sort"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/log"
)

// Assign is a pure function: given the local nodeId and the full node
// list (sorted here, so callers may pass it unsorted) and the size of
// the room space, return the rooms this node owns.
//
// If nodes is empty, partitioning is disabled and every room is
// returned. If nodeID is not present in nodes, the assignment falls
// back to every room and the caller should log the condition (see
// ResolveAssignment, which does).
func Assign(nodeID string, nodes []string, numRooms int) domain.PartitionAssignment {
	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)

	rooms := allRooms(numRooms)

	if len(sorted) == 0 {
		return domain.PartitionAssignment{
			NodeID:      nodeID,
			SortedNodes: sorted,
			OwnedRooms:  rooms,
			Partitioned: false,
		}
	}

	idx := indexOf(nodeID, sorted)
	if idx < 0 {
		return domain.PartitionAssignment{
			NodeID:      nodeID,
			SortedNodes: sorted,
			OwnedRooms:  rooms,
			Partitioned: false,
		}
	}

	n := len(sorted)
	owned := make([]int, 0, numRooms/n+1)
	for _, room := range rooms {
		if (room-1)%n == idx {
			owned = append(owned, room)
		}
	}

	return domain.PartitionAssignment{
		NodeID:      nodeID,
		SortedNodes: sorted,
		OwnedRooms:  owned,
		Partitioned: true,
	}
}

// ResolveAssignment wraps Assign with the logging the fallback case
// requires per spec.md §4.5 ("log and fall back to all rooms").
func ResolveAssignment(nodeID string, nodes []string, numRooms int) domain.PartitionAssignment {
	assignment := Assign(nodeID, nodes, numRooms)
	if len(nodes) > 0 && !assignment.Partitioned {
		log.L().Warn().
			Str(log.FieldNodeID, nodeID).
			Msg("node id not present in configured node list; falling back to consuming all rooms")
	}
	return assignment
}

func allRooms(n int) []int {
	rooms := make([]int, n)
	for i := range rooms {
		rooms[i] = i + 1
	}
	return rooms
}

func indexOf(nodeID string, sorted []string) int {
	for i, n := range sorted {
		if n == nodeID {
			return i
		}
	}
	return -1
}
