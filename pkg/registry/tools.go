package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxFileRead caps read_file output so a pathological target cannot flood
// the evidence ledger.
const maxFileRead = 64 * 1024

// ReadFileTool reads a text file from disk.
type ReadFileTool struct{}

func (ReadFileTool) Name() string { return "read_file" }

func (ReadFileTool) Schema() Schema {
	return Schema{
		"path": {Type: "string", Required: true, Description: "File path to read"},
	}
}

func (ReadFileTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read %s: is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxFileRead {
		data = data[:maxFileRead]
	}
	return string(data), nil
}

// ListDirTool lists directory entries.
type ListDirTool struct{}

func (ListDirTool) Name() string { return "list_dir" }

func (ListDirTool) Schema() Schema {
	return Schema{
		"path": {Type: "string", Required: true, Description: "Directory to list"},
	}
}

func (ListDirTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

// LaunchAppTool starts a desktop application by name. The process is
// detached; success means the launch command was accepted, not that the
// application finished starting.
type LaunchAppTool struct {
	// Launcher overrides the platform launch command, mainly for tests.
	Launcher func(ctx context.Context, app string) error
}

func (LaunchAppTool) Name() string { return "launch_app" }

func (LaunchAppTool) Schema() Schema {
	return Schema{
		"app": {Type: "string", Required: true, Description: "Application name"},
	}
}

func (t LaunchAppTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	app, err := stringArg(args, "app")
	if err != nil {
		return "", err
	}
	launch := t.Launcher
	if launch == nil {
		launch = defaultLaunch
	}
	if err := launch(ctx, app); err != nil {
		return "", fmt.Errorf("launch %s: %w", app, err)
	}
	return fmt.Sprintf("launched %s", app), nil
}

func defaultLaunch(ctx context.Context, app string) error {
	cmd := exec.CommandContext(ctx, app)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Detach; reap in the background so the child does not zombie.
	go cmd.Wait()
	return nil
}

// OBSSceneTool switches the active scene on a local OBS controller over HTTP.
type OBSSceneTool struct {
	Endpoint string
	Client   *http.Client
}

func (OBSSceneTool) Name() string { return "obs_scene" }

func (OBSSceneTool) Schema() Schema {
	return Schema{
		"scene": {Type: "string", Required: true, Description: "Scene name to activate"},
	}
}

func (t OBSSceneTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	scene, err := stringArg(args, "scene")
	if err != nil {
		return "", err
	}
	if t.Endpoint == "" {
		return "", fmt.Errorf("obs controller not configured")
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, _ := json.Marshal(map[string]string{"scene": scene})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint+"/scene", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("obs scene switch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("obs scene switch: status %d", resp.StatusCode)
	}
	return fmt.Sprintf("scene set to %s", scene), nil
}

// OBSStatusTool reports streaming and recording state from the OBS
// controller.
type OBSStatusTool struct {
	Endpoint string
	Client   *http.Client
}

func (OBSStatusTool) Name() string { return "obs_status" }

func (OBSStatusTool) Schema() Schema { return Schema{} }

func (t OBSStatusTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if t.Endpoint == "" {
		return "", fmt.Errorf("obs controller not configured")
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint+"/status", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("obs status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("obs status: status %d", resp.StatusCode)
	}

	var status struct {
		Streaming bool   `json:"streaming"`
		Recording bool   `json:"recording"`
		Scene     string `json:"scene"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("obs status: %w", err)
	}

	out := fmt.Sprintf("streaming=%v recording=%v", status.Streaming, status.Recording)
	if status.Scene != "" {
		out += " scene=" + status.Scene
	}
	return out, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %s must be a non-empty string", key)
	}
	return s, nil
}
