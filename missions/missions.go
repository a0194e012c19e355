// Package missions provides the mission-record tool backend and the cache
// that memoizes its lookups.
package missions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/model"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no mission record exists for an ID
var ErrNotFound = errors.New("mission not found")

// ToolGetMissionContext is the name the mission lookup tool is registered
// under and the name the model must request
const ToolGetMissionContext = "get_mission_context"

// Backend reads mission records from a directory. A record is
// <root>/<missionID>.txt, optionally accompanied by <missionID>.yaml with
// metadata that is folded into the returned context.
type Backend struct {
	root string
}

// missionMeta is the optional per-mission metadata sidecar
type missionMeta struct {
	Title    string `yaml:"title"`
	Location string `yaml:"location"`
	Status   string `yaml:"status"`
}

// NewBackend creates a mission backend rooted at the given directory.
// The directory does not have to exist; lookups then resolve to not-found.
func NewBackend(root string) *Backend {
	return &Backend{root: root}
}

// FetchMissionContext returns the stored context for a mission.
// Returns ErrNotFound if no record exists.
func (b *Backend) FetchMissionContext(missionID string) (string, error) {
	if !validMissionID(missionID) {
		return "", fmt.Errorf("invalid mission ID: %q", missionID)
	}

	path := filepath.Join(b.root, missionID+".txt")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Log.Debugf("mission not found: %s", missionID)
		return "", fmt.Errorf("%w: %s", ErrNotFound, missionID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read mission file: %w", err)
	}

	content := string(data)
	if meta := b.loadMeta(missionID); meta != nil {
		content = formatMeta(meta) + content
	}
	return content, nil
}

// loadMeta reads the optional metadata sidecar. Any failure just means no
// metadata; the text record alone is a complete mission.
func (b *Backend) loadMeta(missionID string) *missionMeta {
	data, err := os.ReadFile(filepath.Join(b.root, missionID+".yaml"))
	if err != nil {
		return nil
	}
	var meta missionMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		log.Log.Warnf("ignoring malformed mission metadata for %s: %v", missionID, err)
		return nil
	}
	return &meta
}

func formatMeta(meta *missionMeta) string {
	var b strings.Builder
	if meta.Title != "" {
		fmt.Fprintf(&b, "Mission: %s\n", meta.Title)
	}
	if meta.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", meta.Location)
	}
	if meta.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", meta.Status)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// validMissionID rejects empty ids, the placeholder values models sometimes
// invent, and anything that would escape the mission directory.
func validMissionID(missionID string) bool {
	id := strings.ToLower(strings.TrimSpace(missionID))
	switch id {
	case "", "none", "null", "not specified":
		return false
	}
	if strings.ContainsAny(missionID, `/\`) || strings.Contains(missionID, "..") {
		return false
	}
	return true
}

// ToolDefinition returns the tool schema advertised to the LLM. The
// description carries the usage policy: the tool is only for explicit
// mission IDs, never for speculative lookups.
func (b *Backend) ToolDefinition() model.Tool {
	return model.Tool{
		Name: ToolGetMissionContext,
		Description: "Retrieve detailed information about a specific mission when the user " +
			"provides a mission ID. Only use this tool when the user explicitly mentions a " +
			"mission ID. If no mission ID is provided, ask the user to specify which mission " +
			"they're referring to.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"mission_id": map[string]interface{}{
					"type":        "string",
					"description": "Unique ID of the mission to retrieve",
				},
			},
			"required": []string{"mission_id"},
		},
	}
}

// Register wires the mission lookup tool into a tool registry
func (b *Backend) Register(reg *model.ToolRegistry) {
	reg.MustRegister(b.ToolDefinition(), func(args map[string]interface{}) (string, error) {
		missionID, _ := args["mission_id"].(string)
		if !validMissionID(missionID) {
			return "", fmt.Errorf("no mission ID provided, please specify a mission ID")
		}
		content, err := b.FetchMissionContext(missionID)
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("no mission found with ID: %s", missionID)
		}
		if err != nil {
			return "", fmt.Errorf("error retrieving mission: %w", err)
		}
		return content, nil
	})
}
