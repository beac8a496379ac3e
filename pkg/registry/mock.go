package registry

import "context"

// MockTool is a configurable tool for tests.
type MockTool struct {
	ToolName   string
	ArgSchema  Schema
	Result     string
	Err        error
	Calls      int
	LastArgs   map[string]any
	InvokeFunc func(ctx context.Context, args map[string]any) (string, error)
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Schema() Schema {
	if m.ArgSchema == nil {
		return Schema{}
	}
	return m.ArgSchema
}

func (m *MockTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	m.Calls++
	m.LastArgs = args
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, args)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Result, nil
}
