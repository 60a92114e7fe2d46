package agentclient

import (
	"context"
	"testing"
)

func TestCreatePayload_NilAndZeroConfigs(t *testing.T) {
	var nilCfg *SessionConfig
	if p := nilCfg.createPayload(); len(p) != 0 {
		t.Fatalf("nil config payload = %v, want empty", p)
	}
	if p := (&SessionConfig{}).createPayload(); len(p) != 0 {
		t.Fatalf("zero config payload = %v, want empty", p)
	}
}

func TestCreatePayload_FullConfig(t *testing.T) {
	cfg := &SessionConfig{
		SessionID:       "pre-assigned",
		Model:           "base-xl",
		ReasoningEffort: ReasoningHigh,
		ConfigDir:       "/etc/agent",
		SystemMessage:   AppendSystemMessage("Be terse."),
		AvailableTools:  []string{"shell"},
		ExcludedTools:   []string{},
		Provider: &ProviderConfig{
			Type:    "openai",
			BaseURL: "https://models.internal/v1",
			WireAPI: "chat",
		},
		WorkingDirectory: "/src/project",
		MCPServers: map[string]MCPServerConfig{
			"files": {Type: "local", Command: "mcp-files", Args: []string{"--root", "/src"}},
		},
		CustomAgents: []CustomAgentConfig{
			{Name: "reviewer", Prompt: "Review diffs.", Infer: true},
		},
		SkillDirectories: []string{"/src/skills"},
		DisabledSkills:   []string{"deploy"},
		InfiniteSessions: &InfiniteSessionConfig{Enabled: true, BackgroundCompactionThreshold: 0.8},
	}

	// Round-trip through JSON: the payload is judged by what hits the wire.
	wire := decodeJSON[map[string]any](t, mustJSON(t, cfg.createPayload()))

	if wire["sessionId"] != "pre-assigned" || wire["model"] != "base-xl" {
		t.Errorf("identity fields = %v %v", wire["sessionId"], wire["model"])
	}
	if wire["reasoningEffort"] != "high" || wire["configDir"] != "/etc/agent" {
		t.Errorf("effort/configDir = %v %v", wire["reasoningEffort"], wire["configDir"])
	}

	sysMsg := wire["systemMessage"].(map[string]any)
	if sysMsg["mode"] != "append" || sysMsg["content"] != "Be terse." {
		t.Errorf("systemMessage = %v", sysMsg)
	}

	// An empty (but non-nil) slice still crosses the wire: it means "none",
	// not "unspecified".
	excluded, ok := wire["excludedTools"].([]any)
	if !ok || len(excluded) != 0 {
		t.Errorf("excludedTools = %v", wire["excludedTools"])
	}

	provider := wire["provider"].(map[string]any)
	if provider["baseUrl"] != "https://models.internal/v1" || provider["wireApi"] != "chat" {
		t.Errorf("provider = %v", provider)
	}
	if _, present := provider["apiKey"]; present {
		t.Error("unset provider fields must be omitted")
	}

	servers := wire["mcpServers"].(map[string]any)
	files := servers["files"].(map[string]any)
	if files["command"] != "mcp-files" {
		t.Errorf("mcpServers = %v", servers)
	}

	agents := wire["customAgents"].([]any)
	reviewer := agents[0].(map[string]any)
	if reviewer["name"] != "reviewer" || reviewer["infer"] != true {
		t.Errorf("customAgents = %v", agents)
	}

	inf := wire["infiniteSessions"].(map[string]any)
	if inf["enabled"] != true || inf["backgroundCompactionThreshold"] != 0.8 {
		t.Errorf("infiniteSessions = %v", inf)
	}

	// Callback capability flags appear only when handlers are registered.
	for _, key := range []string{"requestPermission", "requestUserInput", "hooks", "streaming", "tools", "disableResume"} {
		if _, present := wire[key]; present {
			t.Errorf("%s must be absent from this payload, got %v", key, wire[key])
		}
	}
}

func TestCreatePayload_HooksFlagNeedsAHandler(t *testing.T) {
	cfg := &SessionConfig{Hooks: &SessionHooks{}}
	if _, present := cfg.createPayload()["hooks"]; present {
		t.Fatal("an empty hooks bundle must not advertise hook support")
	}

	cfg.Hooks.OnErrorOccurred = func(ctx context.Context, input map[string]any, sessionID string) (map[string]any, error) {
		return nil, nil
	}
	if cfg.createPayload()["hooks"] != true {
		t.Fatal("a populated hooks bundle must advertise hook support")
	}
}

func TestCreatePayload_ToolDescriptors(t *testing.T) {
	cfg := &SessionConfig{Tools: []Tool{
		{
			Name:        "lookup",
			Description: "Looks things up.",
			Parameters:  map[string]any{"type": "object"},
		},
		{Name: "bare"},
	}}

	wire := decodeJSON[map[string]any](t, mustJSON(t, cfg.createPayload()))
	tools := wire["tools"].([]any)
	if len(tools) != 2 {
		t.Fatalf("tools = %v", tools)
	}

	full := tools[0].(map[string]any)
	if full["name"] != "lookup" || full["description"] != "Looks things up." {
		t.Errorf("tool = %v", full)
	}
	if params, ok := full["parameters"].(map[string]any); !ok || params["type"] != "object" {
		t.Errorf("parameters = %v", full["parameters"])
	}

	// A tool with no description or schema sends only its name.
	bare := tools[1].(map[string]any)
	if len(bare) != 1 || bare["name"] != "bare" {
		t.Errorf("bare tool = %v", bare)
	}
}

func TestSystemMessageConstructors(t *testing.T) {
	if m := AppendSystemMessage("x"); m.Mode != SystemMessageAppend || m.Content != "x" {
		t.Errorf("append = %+v", m)
	}
	if m := ReplaceSystemMessage("y"); m.Mode != SystemMessageReplace || m.Content != "y" {
		t.Errorf("replace = %+v", m)
	}
}

func TestMCPServerConfig_WireShape(t *testing.T) {
	local := decodeJSON[map[string]any](t, mustJSON(t, MCPServerConfig{
		Type:    "local",
		Command: "mcp-files",
		Args:    []string{"--root", "/src"},
		Env:     map[string]string{"DEBUG": "1"},
		CWD:     "/src",
		Tools:   []string{"*"},
	}))
	if local["cwd"] != "/src" || local["command"] != "mcp-files" {
		t.Errorf("local = %v", local)
	}
	for _, key := range []string{"url", "headers", "timeout"} {
		if _, present := local[key]; present {
			t.Errorf("%s must be omitted for a local server", key)
		}
	}

	remote := decodeJSON[map[string]any](t, mustJSON(t, MCPServerConfig{
		Type:    "http",
		URL:     "https://mcp.internal",
		Headers: map[string]string{"Authorization": "Bearer x"},
		Timeout: 30,
	}))
	if remote["url"] != "https://mcp.internal" || remote["timeout"] != float64(30) {
		t.Errorf("remote = %v", remote)
	}
	for _, key := range []string{"command", "args", "env", "cwd"} {
		if _, present := remote[key]; present {
			t.Errorf("%s must be omitted for a remote server", key)
		}
	}
}
