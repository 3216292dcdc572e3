// Package entities turns source platform payloads into catalog entities. Every function is
// pure: the same payload always yields the same identifiers, titles and relations.
package entities

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tansive/catalogsync/internal/catalog"
	"github.com/tansive/catalogsync/internal/source"
)

// ModulePathPrefix prefixes the res_id of every resource that belongs to a module.
const ModulePathPrefix = source.ModulesGroup + "."

// RemoveSymbolsAndTitleCase replaces every character that is not an ASCII letter, digit or
// whitespace with a single space and title cases the result. Runs of spaces are kept as is.
// Words are split on whitespace only, so "k8s" becomes "K8s" rather than "K8S".
func RemoveSymbolsAndTitleCase(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case unicode.IsSpace(r):
			return r
		}
		return ' '
	}, s)
	// cases.Caser keeps state, one per call
	return cases.Title(language.English).String(cleaned)
}

// ModuleID derives a module identifier from a raw resource id by removing ModulePathPrefix.
func ModuleID(resID string) string {
	return strings.TrimPrefix(resID, ModulePathPrefix)
}

// WorkloadRelation returns the module a resource belongs to: the second path segment of
// resID when the first starts with the modules group, "" otherwise.
func WorkloadRelation(resID string) string {
	parts := strings.Split(resID, ".")
	if len(parts) < 2 || !strings.HasPrefix(parts[0], source.ModulesGroup) {
		return ""
	}
	return parts[1]
}

// Application builds the entity of an application.
func Application(app source.Application) catalog.Entity {
	return catalog.Entity{
		Identifier: app.ID,
		Title:      RemoveSymbolsAndTitleCase(app.Name),
		Properties: map[string]any{
			"createdAt": optional(app.CreatedAt),
		},
		Relations: map[string]any{},
	}
}

// Environment builds the entity of an environment owned by appID.
func Environment(appID string, env source.Environment) catalog.Entity {
	var last source.LastDeploy
	if env.LastDeploy != nil {
		last = *env.LastDeploy
	}
	return catalog.Entity{
		Identifier: env.ID,
		Title:      env.Name,
		Properties: map[string]any{
			"type":                  env.Type,
			"createdAt":             optional(env.CreatedAt),
			"lastDeploymentStatus":  optional(last.Status),
			"lastDeploymentDate":    optional(last.CreatedAt),
			"lastDeploymentComment": optional(last.Comment),
		},
		Relations: map[string]any{
			catalog.RelationApplication: appID,
		},
	}
}

// Workload builds the entity of a module deployed into envID.
func Workload(envID string, res source.Resource) catalog.Entity {
	id := ModuleID(res.ResID)
	return catalog.Entity{
		Identifier: id,
		Title:      RemoveSymbolsAndTitleCase(id),
		Properties: map[string]any{
			"status":              res.Status,
			"class":               res.Class,
			"driverType":          res.DriverType,
			"definitionId":        res.DefID,
			"definitionVersionId": res.DefVersionID,
			"updatedAt":           optional(res.UpdatedAt),
			"graphResourceID":     res.GuResID,
		},
		Relations: map[string]any{
			catalog.RelationEnvironment: envID,
		},
	}
}

// GraphNodeSkeleton builds the relation-less entity of a graph node.
func GraphNodeSkeleton(node source.GraphNode) catalog.Entity {
	title := node.GuResID
	if node.DefID != "" {
		title = RemoveSymbolsAndTitleCase(node.DefID)
	}
	return catalog.Entity{
		Identifier: node.GuResID,
		Title:      title,
		Properties: map[string]any{
			"type":           node.Type,
			"class":          node.Class,
			"definitionId":   node.DefID,
			"resourceSchema": node.ResourceSchema,
			"resource":       node.Resource,
		},
		Relations: map[string]any{},
	}
}

// GraphNodeWithRelations builds the entity of a graph node including its dependencies.
func GraphNodeWithRelations(node source.GraphNode) catalog.Entity {
	e := GraphNodeSkeleton(node)
	e.Relations[catalog.RelationResourceGraphs] = dependencyList(node.DependsOn)
	return e
}

// Resource builds the entity of a resource whose graph node id and dependencies have been
// stamped from the dependency graph.
func Resource(res source.Resource) catalog.Entity {
	return catalog.Entity{
		Identifier: res.GraphNodeID,
		Title:      RemoveSymbolsAndTitleCase(ModuleID(res.ResID)),
		Properties: map[string]any{
			"type":       res.Type,
			"class":      res.Class,
			"status":     res.Status,
			"updatedAt":  optional(res.UpdatedAt),
			"driverType": res.DriverType,
		},
		Relations: map[string]any{
			catalog.RelationResourceGraphs: dependencyList(res.DependsOn),
			catalog.RelationWorkload:       WorkloadRelation(res.ResID),
		},
	}
}

func dependencyList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// optional maps "" to nil so that empty timestamps are sent as null.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
