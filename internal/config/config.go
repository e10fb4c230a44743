// Package config holds the per-session Configuration value object from
// spec.md §6 and its permissionMode -> (approvalPolicy, sandbox) derivation.
// The process-level bootstrap configuration for cmd/hub lives in bootstrap.go
// and is unrelated: it is loaded by viper, not derived.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agenthub/hub/internal/model"
)

// SandboxPolicy is the agent-side filesystem enforcement knob.
type SandboxPolicy string

const (
	SandboxReadOnly       SandboxPolicy = "read-only"
	SandboxWorkspaceWrite SandboxPolicy = "workspace-write"
	SandboxDangerFull     SandboxPolicy = "danger-full-access"
)

// ApprovalPolicy is the agent-side approval enforcement knob.
type ApprovalPolicy string

const (
	ApprovalUntrusted ApprovalPolicy = "untrusted"
	ApprovalOnFailure ApprovalPolicy = "on-failure"
	ApprovalOnRequest ApprovalPolicy = "on-request"
	ApprovalNever     ApprovalPolicy = "never"
)

// Configuration is the external value object described in spec.md §6.
// ApprovalPolicy and Sandbox are derived from PermissionMode unless CLI
// overrides are supplied, and overrides are only honored when
// PermissionMode is "default".
type Configuration struct {
	PermissionMode    model.PermissionMode
	Model             string
	CollaborationMode model.CollaborationMode

	Sandbox        SandboxPolicy
	ApprovalPolicy ApprovalPolicy
}

// derivation is the table in spec.md §6.
var derivation = map[model.PermissionMode]struct {
	approval ApprovalPolicy
	sandbox  SandboxPolicy
}{
	model.PermissionModeDefault:  {ApprovalUntrusted, SandboxWorkspaceWrite},
	model.PermissionModeReadOnly: {ApprovalNever, SandboxReadOnly},
	model.PermissionModeSafeYolo: {ApprovalOnFailure, SandboxWorkspaceWrite},
	model.PermissionModeYolo:     {ApprovalOnFailure, SandboxDangerFull},
}

// Overrides holds CLI-supplied approvalPolicy/sandbox overrides. They are
// only applied when PermissionMode is "default"; in any other mode Derive
// itself ignores them (no error — this is a silent no-op per spec.md §6's
// "may replace ... only when").
type Overrides struct {
	ApprovalPolicy ApprovalPolicy
	Sandbox        SandboxPolicy
}

// Derive computes the full Configuration, applying overrides where allowed.
func Derive(mode model.Mode, overrides *Overrides) Configuration {
	d, ok := derivation[mode.PermissionMode]
	if !ok {
		d = derivation[model.PermissionModeDefault]
	}

	cfg := Configuration{
		PermissionMode:    mode.PermissionMode,
		Model:             mode.Model,
		CollaborationMode: mode.CollaborationMode,
		Sandbox:           d.sandbox,
		ApprovalPolicy:    d.approval,
	}

	if overrides != nil && mode.PermissionMode == model.PermissionModeDefault {
		if overrides.ApprovalPolicy != "" {
			cfg.ApprovalPolicy = overrides.ApprovalPolicy
		}
		if overrides.Sandbox != "" {
			cfg.Sandbox = overrides.Sandbox
		}
	}

	return cfg
}

// ModeHash is the deterministic digest over (permissionMode, model,
// collaborationMode) described in the GLOSSARY. A change in the hash forces
// a session restart (spec.md §4.8 step 2).
func ModeHash(mode model.Mode) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s",
		mode.PermissionMode, mode.Model, mode.CollaborationMode)))
	return hex.EncodeToString(sum[:])[:16]
}
