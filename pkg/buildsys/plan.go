package buildsys

import (
	"sort"
)

const (
	unvisited = iota
	visiting
	visited
)

// plan is the layered execution order for a set of requested tasks
type plan struct {
	layers [][]*Task
}

func (p *plan) names() [][]string {
	result := make([][]string, len(p.layers))
	for idx, layer := range p.layers {
		result[idx] = make([]string, len(layer))
		for pos, task := range layer {
			result[idx][pos] = task.Short
		}
	}

	return result
}

// buildPlan collects the transitive prerequisites of names and groups them by depth: a task's layer is one
// higher than the highest layer of its dependencies. Tasks within a layer are sorted by name.
func buildPlan(tasks TaskList, names []string) (*plan, error) {
	state := make(map[string]int)
	depth := make(map[string]int)
	closure := make(map[string]*Task)
	stack := make([]string, 0)

	var visit func(name, requiredBy string) error
	visit = func(name, requiredBy string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			start := 0
			for idx, item := range stack {
				if item == name {
					start = idx
					break
				}
			}

			path := make([]string, 0, len(stack)-start+1)
			path = append(path, stack[start:]...)
			path = append(path, name)
			return &CycleError{Path: path}
		}

		task, ok := tasks[name]
		if !ok {
			return &UnknownTaskError{Name: name, RequiredBy: requiredBy}
		}

		state[name] = visiting
		stack = append(stack, name)

		level := 0
		for _, dep := range task.Deps {
			err := visit(dep, name)
			if err != nil {
				return err
			}

			if depth[dep]+1 > level {
				level = depth[dep] + 1
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
		depth[name] = level
		closure[name] = task
		return nil
	}

	for _, name := range names {
		err := visit(name, "")
		if err != nil {
			return nil, err
		}
	}

	maxDepth := -1
	for _, level := range depth {
		if level > maxDepth {
			maxDepth = level
		}
	}

	result := &plan{layers: make([][]*Task, maxDepth+1)}
	for name, task := range closure {
		level := depth[name]
		result.layers[level] = append(result.layers[level], task)
	}

	for _, layer := range result.layers {
		sort.Slice(layer, func(i, j int) bool {
			return layer[i].Short < layer[j].Short
		})
	}

	return result, nil
}

// Plan returns the layers a Scheduler would run for names without executing anything
func (l TaskList) Plan(names ...string) ([][]string, error) {
	p, err := buildPlan(l, names)
	if err != nil {
		return nil, err
	}

	return p.names(), nil
}
