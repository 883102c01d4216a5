package diag

// Section is one entry of the diagnostic catalog.
type Section struct {
	Key   string
	Label string
}

// catalog is the fixed report order.
var catalog = []Section{
	{Key: "server", Label: "Server"},
	{Key: "health", Label: "Health"},
	{Key: "config", Label: "Config"},
	{Key: "providers", Label: "Providers"},
	{Key: "project", Label: "Project"},
	{Key: "projects", Label: "Projects"},
	{Key: "path", Label: "Path"},
	{Key: "vcs", Label: "VCS"},
	{Key: "agents", Label: "Agents"},
	{Key: "commands", Label: "Commands"},
	{Key: "tools", Label: "Tools"},
	{Key: "tool-ids", Label: "Tool IDs"},
	{Key: "mcp", Label: "MCP"},
	{Key: "lsp", Label: "LSP"},
	{Key: "formatter", Label: "Formatter"},
	{Key: "sessions", Label: "Sessions"},
	{Key: "session-status", Label: "Session Status"},
}

// Catalog returns the sections in report order.
func Catalog() []Section {
	return append([]Section(nil), catalog...)
}

// Keys returns the section keys in report order.
func Keys() []string {
	keys := make([]string, len(catalog))
	for i, s := range catalog {
		keys[i] = s.Key
	}

	return keys
}
