package source

// Application is a top-level deployable unit.
type Application struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// LastDeploy describes the most recent deployment into an environment.
type LastDeploy struct {
	Status    string `json:"status"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

// Environment is a deployment target within an application.
type Environment struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	CreatedAt  string      `json:"created_at"`
	LastDeploy *LastDeploy `json:"last_deploy"`
}

// Resource is an active resource provisioned in an environment.
type Resource struct {
	AppID        string         `json:"app_id"`
	EnvID        string         `json:"env_id"`
	ResID        string         `json:"res_id"`
	GuResID      string         `json:"gu_res_id"`
	Type         string         `json:"type"`
	Class        string         `json:"class"`
	Status       string         `json:"status"`
	DriverType   string         `json:"driver_type"`
	DefID        string         `json:"def_id"`
	DefVersionID string         `json:"def_version_id"`
	UpdatedAt    string         `json:"updated_at"`
	Resource     map[string]any `json:"resource"`

	// Set from the dependency graph before the resource is published.
	GraphNodeID string   `json:"-"`
	DependsOn   []string `json:"-"`
}

// GraphRequest identifies one resource in a dependency graph request.
type GraphRequest struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Resource map[string]any `json:"resource"`
}

// GraphNode is a node of a resource dependency graph.
type GraphNode struct {
	GuResID        string         `json:"guresid"`
	DefID          string         `json:"def_id"`
	Type           string         `json:"type"`
	Class          string         `json:"class"`
	ResourceSchema map[string]any `json:"resource_schema"`
	Resource       map[string]any `json:"resource"`
	DependsOn      []string       `json:"depends_on"`
}

// GraphRequestFor builds the graph request descriptor of r.
func GraphRequestFor(r Resource) GraphRequest {
	return GraphRequest{ID: r.ResID, Type: r.Type, Resource: r.Resource}
}
