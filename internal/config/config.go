// Package config loads and validates per-project board configuration.
//
// Each project carries a .boardsync/config.json naming the backend kind and
// the backend-specific settings the adapter needs (pipeline mapping, field
// mapping, credential reference). The config is read once per invocation and
// treated as immutable; callers that hold a config across invocations can use
// Stale to detect an on-disk change.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendKind identifies which board backend a project is configured for.
type BackendKind string

const (
	BackendZenhub BackendKind = "zenhub"
	BackendJira   BackendKind = "jira"
	BackendLinear BackendKind = "linear"
)

// KnownBackends lists every backend kind the resolver accepts.
var KnownBackends = []BackendKind{BackendZenhub, BackendJira, BackendLinear}

// ConfigDirName is the per-project directory holding boardsync configuration.
const ConfigDirName = ".boardsync"

// ConfigFileName is the main board configuration file inside ConfigDirName.
const ConfigFileName = "config.json"

// MappingsFileName is the optional overlay with pipeline aliases and
// field-ID overrides. See mappings.go.
const MappingsFileName = "mappings.yaml"

// Abstract state names used as PipelineMap keys. These mirror the lifecycle
// states; config is a leaf package so it keys the map by name rather than
// importing the board package.
const (
	StateBacklog    = "backlog"
	StateInProgress = "in_progress"
	StateReviewQA   = "review_qa"
	StateDone       = "done"
	StateBlocked    = "blocked"
)

// BoardConfig is the resolved, validated configuration for one project.
// Immutable after Resolve returns it.
type BoardConfig struct {
	Backend BackendKind `json:"backend_kind"`

	// CredentialRef names the environment variable holding the API
	// credential. Token acquisition is out of scope; the value is read at
	// adapter init time, never stored in the config file.
	CredentialRef string `json:"credential_ref"`

	// PipelineMap maps abstract state names (StateBacklog etc.) to the
	// backend-native pipeline/status/transition ID.
	PipelineMap map[string]string `json:"pipeline_map"`

	// FieldMap maps logical field names ("estimate", "sprint") to
	// backend-native field IDs. Jira custom-field IDs are instance-specific
	// and may be discovered at runtime when absent here.
	FieldMap map[string]string `json:"field_map"`

	// Zenhub-specific. Workspace and repository IDs are plain numeric
	// strings; everything else in the ZenHub API is an opaque global ID.
	WorkspaceID    string `json:"workspace_id,omitempty"`
	RepositoryID   string `json:"repository_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	// Jira-specific.
	JiraURL    string `json:"jira_url,omitempty"`
	ProjectKey string `json:"project_key,omitempty"`
	JiraEmail  string `json:"jira_email,omitempty"`

	// Linear-specific.
	TeamID string `json:"team_id,omitempty"`

	// DefaultLabels are applied at issue creation.
	DefaultLabels []string `json:"default_labels,omitempty"`

	path    string
	modTime time.Time
}

// IncompleteError reports every missing required key in one error so the
// caller can fix the whole file in a single pass.
type IncompleteError struct {
	Path    string
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("board config %s incomplete: missing %s",
		e.Path, strings.Join(e.Missing, ", "))
}

// FilePath returns the file the config was resolved from.
func (c *BoardConfig) FilePath() string {
	return c.path
}

// Stale reports whether the underlying file changed since Resolve.
// A vanished file counts as stale.
func (c *BoardConfig) Stale() bool {
	info, err := os.Stat(c.path)
	if err != nil {
		return true
	}
	return info.ModTime().After(c.modTime)
}

// Credential reads the credential named by CredentialRef from the
// environment. Empty when unset; adapters fail with an auth error in that
// case rather than here, so Resolve stays side-effect free.
func (c *BoardConfig) Credential() string {
	if c.CredentialRef == "" {
		return ""
	}
	return os.Getenv(c.CredentialRef)
}

// Resolve loads and validates the board configuration for a project.
// Missing required keys for the declared backend kind are aggregated into a
// single *IncompleteError.
func Resolve(projectPath string) (*BoardConfig, error) {
	path := filepath.Join(projectPath, ConfigDirName, ConfigFileName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("board config not found at %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading board config: %w", err)
	}

	cfg := &BoardConfig{
		Backend:        BackendKind(v.GetString("backend_kind")),
		CredentialRef:  v.GetString("credential_ref"),
		PipelineMap:    v.GetStringMapString("pipeline_map"),
		FieldMap:       v.GetStringMapString("field_map"),
		WorkspaceID:    v.GetString("workspace_id"),
		RepositoryID:   v.GetString("repository_id"),
		OrganizationID: v.GetString("organization_id"),
		JiraURL:        strings.TrimSuffix(v.GetString("jira_url"), "/"),
		ProjectKey:     strings.ToUpper(v.GetString("project_key")),
		JiraEmail:      v.GetString("jira_email"),
		TeamID:         v.GetString("team_id"),
		DefaultLabels:  v.GetStringSlice("default_labels"),
		path:           path,
		modTime:        info.ModTime(),
	}
	if cfg.PipelineMap == nil {
		cfg.PipelineMap = map[string]string{}
	}
	if cfg.FieldMap == nil {
		cfg.FieldMap = map[string]string{}
	}

	if err := applyMappingsOverlay(cfg, filepath.Join(projectPath, ConfigDirName, MappingsFileName)); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks presence of every key the declared backend requires.
func (c *BoardConfig) validate() error {
	var missing []string

	if c.Backend == "" {
		missing = append(missing, "backend_kind")
	} else if !knownBackend(c.Backend) {
		return fmt.Errorf("unknown backend_kind %q (known: %s)", c.Backend, backendNames())
	}

	if c.CredentialRef == "" {
		missing = append(missing, "credential_ref")
	}

	switch c.Backend {
	case BackendZenhub:
		if c.WorkspaceID == "" {
			missing = append(missing, "workspace_id")
		}
		if c.RepositoryID == "" {
			missing = append(missing, "repository_id")
		}
		if c.OrganizationID == "" {
			missing = append(missing, "organization_id")
		}
	case BackendJira:
		if c.JiraURL == "" {
			missing = append(missing, "jira_url")
		}
		if c.ProjectKey == "" {
			missing = append(missing, "project_key")
		}
		if c.JiraEmail == "" {
			missing = append(missing, "jira_email")
		}
	case BackendLinear:
		if c.TeamID == "" {
			missing = append(missing, "team_id")
		}
		// Backlog/Blocked may be implicit for Linear; the working states
		// must be mapped explicitly.
		for _, state := range []string{StateInProgress, StateReviewQA, StateDone} {
			if c.PipelineMap[state] == "" {
				missing = append(missing, "pipeline_map."+state)
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &IncompleteError{Path: c.path, Missing: missing}
	}
	return nil
}

func knownBackend(k BackendKind) bool {
	for _, known := range KnownBackends {
		if k == known {
			return true
		}
	}
	return false
}

func backendNames() string {
	names := make([]string, len(KnownBackends))
	for i, k := range KnownBackends {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
