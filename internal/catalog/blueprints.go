package catalog

import (
	"embed"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Blueprint identifiers, one per entity kind written by the sync.
const (
	BlueprintApplication   = "humanitecApplication"
	BlueprintEnvironment   = "humanitecEnvironment"
	BlueprintWorkload      = "humanitecWorkload"
	BlueprintResourceGraph = "humanitecResourceGraph"
	BlueprintResource      = "humanitecResource"
)

// Relation names carried by entities.
const (
	RelationApplication    = "humanitecApplication"
	RelationEnvironment    = "humanitecEnvironment"
	RelationWorkload       = "humanitecWorkload"
	RelationResourceGraphs = "humanitecResourceGraphs"
)

// RelationTargets maps every relation name to the blueprint its targets live in.
var RelationTargets = map[string]string{
	RelationApplication:    BlueprintApplication,
	RelationEnvironment:    BlueprintEnvironment,
	RelationWorkload:       BlueprintWorkload,
	RelationResourceGraphs: BlueprintResourceGraph,
}

//go:embed blueprints/*.json
var blueprintFS embed.FS

type blueprintTemplate struct {
	file  string
	id    string
	title string
}

// Ordered so that relation targets are defined before the blueprints that point to them.
var blueprintTemplates = []blueprintTemplate{
	{"application.json", BlueprintApplication, "Humanitec Application"},
	{"environment.json", BlueprintEnvironment, "Humanitec Environment"},
	{"workload.json", BlueprintWorkload, "Humanitec Workload"},
	{"resourcegraph.json", BlueprintResourceGraph, "Humanitec Resource Graph"},
	{"resource.json", BlueprintResource, "Humanitec Resource"},
}

// BlueprintIDs returns the identifiers of every blueprint, in creation order.
func BlueprintIDs() []string {
	ids := make([]string, len(blueprintTemplates))
	for i, t := range blueprintTemplates {
		ids[i] = t.id
	}
	return ids
}

// Blueprints returns the JSON definitions of every blueprint the sync writes to, with
// identifiers, titles and relation targets filled in.
func Blueprints() ([][]byte, error) {
	out := make([][]byte, 0, len(blueprintTemplates))
	for _, t := range blueprintTemplates {
		def, err := blueprintFS.ReadFile("blueprints/" + t.file)
		if err != nil {
			return nil, fmt.Errorf("reading blueprint template %s: %w", t.file, err)
		}
		if def, err = sjson.SetBytes(def, "identifier", t.id); err != nil {
			return nil, err
		}
		if def, err = sjson.SetBytes(def, "title", t.title); err != nil {
			return nil, err
		}
		var setErr error
		gjson.GetBytes(def, "relations").ForEach(func(name, _ gjson.Result) bool {
			target, ok := RelationTargets[name.String()]
			if !ok {
				setErr = fmt.Errorf("blueprint %s: unknown relation %s", t.id, name.String())
				return false
			}
			def, setErr = sjson.SetBytes(def, "relations."+name.String()+".target", target)
			return setErr == nil
		})
		if setErr != nil {
			return nil, setErr
		}
		out = append(out, def)
	}
	return out, nil
}
