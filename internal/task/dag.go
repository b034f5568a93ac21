package task

import (
	"container/heap"
	"errors"
	"slices"
	"sort"
)

// Adjacency returns task ID -> dependency IDs for the given tasks.
// Dependencies that point outside the set are kept; callers decide whether
// an unknown node matters.
func Adjacency(tasks []Task) map[string][]string {
	adj := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		adj[t.ID] = append([]string(nil), t.Dependencies...)
	}
	return adj
}

// DetectCycle runs a depth-first search over adj and returns one cycle as a
// path whose first node is repeated at the end, or nil when adj is acyclic.
//
// visited marks nodes whose subtree has been fully explored; recursionStack
// marks nodes on the current DFS path. Reaching a node on the recursion stack
// is a cycle. Reaching a visited node off the stack is not (diamond shapes).
// Roots and neighbours are walked in sorted order so the result is stable.
func DetectCycle(adj map[string][]string) []string {
	visited := make(map[string]bool, len(adj))
	recursionStack := make(map[string]bool)
	var path []string
	var cycle []string

	var checkCycle func(id string) bool
	checkCycle = func(id string) bool {
		visited[id] = true
		recursionStack[id] = true
		path = append(path, id)

		deps := slices.Clone(adj[id])
		sort.Strings(deps)
		for _, depID := range deps {
			if recursionStack[depID] {
				start := slices.Index(path, depID)
				cycle = append(slices.Clone(path[start:]), depID)
				return true
			}
			if !visited[depID] {
				if checkCycle(depID) {
					return true
				}
			}
		}

		recursionStack[id] = false
		path = path[:len(path)-1]
		return false
	}

	roots := make([]string, 0, len(adj))
	for id := range adj {
		roots = append(roots, id)
	}
	sort.Strings(roots)
	for _, id := range roots {
		if !visited[id] && checkCycle(id) {
			return cycle
		}
	}
	return nil
}

// WouldCreateCycle reports the cycle closed by adding taskID -> dependsOnID to
// adj, or nil if the edge is safe. adj is not modified. The check runs over
// the whole graph with the candidate edge included.
func WouldCreateCycle(adj map[string][]string, taskID, dependsOnID string) []string {
	if taskID == dependsOnID {
		return []string{taskID, taskID}
	}
	next := make(map[string][]string, len(adj)+1)
	for id, deps := range adj {
		next[id] = deps
	}
	next[taskID] = append(slices.Clone(adj[taskID]), dependsOnID)
	return DetectCycle(next)
}

// VerifyDAG checks if the given tasks form a valid Directed Acyclic Graph.
// Dependencies on tasks outside the slice are treated as external and skipped.
func VerifyDAG(tasks []Task) error {
	for _, t := range tasks {
		if t.ID == "" {
			return errors.New("task ID cannot be empty")
		}
	}
	cycle := DetectCycle(Adjacency(tasks))
	if cycle == nil {
		return nil
	}
	n := len(cycle)
	return &CircularDependencyError{TaskID: cycle[n-2], DependsOnID: cycle[n-1], Path: cycle}
}

// Reverse returns task ID -> IDs of the tasks that depend on it, sorted.
// Every key of adj is present in the result.
func Reverse(adj map[string][]string) map[string][]string {
	rev := make(map[string][]string, len(adj))
	for id := range adj {
		if _, ok := rev[id]; !ok {
			rev[id] = nil
		}
		for _, dep := range adj[id] {
			rev[dep] = append(rev[dep], id)
		}
	}
	for id := range rev {
		sort.Strings(rev[id])
	}
	return rev
}

// readyQueue releases tasks by priority (highest first), then by ID.
type readyQueue []*Task

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	wi, wj := q[i].Priority.Weight(), q[j].Priority.Weight()
	if wi != wj {
		return wi > wj
	}
	return q[i].ID < q[j].ID
}
func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)   { *q = append(*q, x.(*Task)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// ExecutionOrder returns tasks in dependency order (dependencies first) using
// Kahn's algorithm. Only edges between tasks in the slice count toward the
// in-degree. If fewer tasks are released than were given, the set contains a
// cycle and a *CycleDetectedError lists the tasks left over.
func ExecutionOrder(tasks []Task) ([]Task, error) {
	byID := make(map[string]*Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] += 0
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	ready := &readyQueue{}
	heap.Init(ready)
	for id, deg := range inDegree {
		if deg == 0 {
			heap.Push(ready, byID[id])
		}
	}

	ordered := make([]Task, 0, len(tasks))
	for ready.Len() > 0 {
		t := heap.Pop(ready).(*Task)
		ordered = append(ordered, *t)
		for _, next := range dependents[t.ID] {
			inDegree[next]--
			if inDegree[next] == 0 {
				heap.Push(ready, byID[next])
			}
		}
	}

	if len(ordered) < len(byID) {
		var remaining []string
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		var projectID string
		if len(tasks) > 0 {
			projectID = tasks[0].ProjectID
		}
		return nil, &CycleDetectedError{ProjectID: projectID, Remaining: remaining}
	}
	return ordered, nil
}
