package api

// GraphQLType is the bucket a GraphQL extension contributes to
type GraphQLType string

const (
	GraphQLQuery        GraphQLType = "query"
	GraphQLMutation     GraphQLType = "mutation"
	GraphQLSubscription GraphQLType = "subscription"
	GraphQLObject       GraphQLType = "type"
)

// DatabaseType is the bucket a database extension contributes to
type DatabaseType string

const (
	DatabaseTable DatabaseType = "table"
	DatabaseEnum  DatabaseType = "enum"
)

// HookType is the phase a hook runs in relative to the host event
type HookType string

const (
	HookPre  HookType = "pre"
	HookPost HookType = "post"
)

// Manifest is the declarative descriptor shipped with every plugin
type Manifest struct {
	Name            string           `json:"name"`
	PluginID        string           `json:"pluginId"`
	Version         string           `json:"version"`
	Description     string           `json:"description"`
	Author          string           `json:"author"`
	Main            string           `json:"main"`
	ExtensionPoints *ExtensionPoints `json:"extensionPoints,omitempty"`

	dir string
}

// ExtensionPoints declares what a plugin contributes before any code runs
type ExtensionPoints struct {
	GraphQL  []GraphQLExtension  `json:"graphql,omitempty"`
	Database []DatabaseExtension `json:"database,omitempty"`
	Hooks    []HookExtension     `json:"hooks,omitempty"`
}

// GraphQLExtension declares one GraphQL field or type
type GraphQLExtension struct {
	Name        string      `json:"name"`
	Type        GraphQLType `json:"type"`
	Resolver    string      `json:"resolver,omitempty"`
	File        string      `json:"file"`
	Returns     string      `json:"returns,omitempty"`
	Description string      `json:"description,omitempty"`
}

// GetName returns the extension name
func (e GraphQLExtension) GetName() string { return e.Name }

// GetType returns the extension bucket
func (e GraphQLExtension) GetType() string { return string(e.Type) }

// DatabaseExtension declares one table or enum
type DatabaseExtension struct {
	Name string       `json:"name"`
	Type DatabaseType `json:"type"`
	File string       `json:"file"`
}

// GetName returns the extension name
func (e DatabaseExtension) GetName() string { return e.Name }

// GetType returns the extension bucket
func (e DatabaseExtension) GetType() string { return string(e.Type) }

// HookExtension declares one handler for a host event
type HookExtension struct {
	Type    HookType `json:"type"`
	Event   string   `json:"event"`
	Handler string   `json:"handler"`
	File    string   `json:"file"`
}

// GetName returns the handler name
func (e HookExtension) GetName() string { return e.Handler }

// GetType returns the hook phase
func (e HookExtension) GetType() string { return string(e.Type) }

// Dir returns the plugin directory the manifest was loaded from
func (m *Manifest) Dir() string {
	return m.dir
}

// SetDir records the plugin directory the manifest belongs to
func (m *Manifest) SetDir(dir string) {
	m.dir = dir
}

// Extensions returns the declared extension points, never nil
func (m *Manifest) Extensions() ExtensionPoints {
	if m.ExtensionPoints == nil {
		return ExtensionPoints{}
	}
	return *m.ExtensionPoints
}
