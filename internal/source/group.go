package source

import "strings"

// ModulesGroup is the first path segment shared by every resource that belongs to a
// deployed module.
const ModulesGroup = "modules"

// WorkloadType is the resource type of a module's workload.
const WorkloadType = "workload"

// GroupByWorkload partitions resources by the first "."-separated segment of their res_id.
// Order within each group follows the input.
func GroupByWorkload(resources []Resource) map[string][]Resource {
	groups := make(map[string][]Resource)
	for _, r := range resources {
		head, _, _ := strings.Cut(r.ResID, ".")
		groups[head] = append(groups[head], r)
	}
	return groups
}

// Workloads returns the resources of the modules group whose type is WorkloadType.
func Workloads(groups map[string][]Resource) []Resource {
	var out []Resource
	for _, r := range groups[ModulesGroup] {
		if r.Type == WorkloadType {
			out = append(out, r)
		}
	}
	return out
}
