package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenthub/hub/internal/model"
)

func TestDeriveDefaultMode(t *testing.T) {
	cfg := Derive(model.Mode{PermissionMode: model.PermissionModeDefault}, nil)
	assert.Equal(t, ApprovalUntrusted, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxWorkspaceWrite, cfg.Sandbox)
}

func TestDeriveReadOnlyMode(t *testing.T) {
	cfg := Derive(model.Mode{PermissionMode: model.PermissionModeReadOnly}, nil)
	assert.Equal(t, ApprovalNever, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxReadOnly, cfg.Sandbox)
}

func TestDeriveSafeYoloMode(t *testing.T) {
	cfg := Derive(model.Mode{PermissionMode: model.PermissionModeSafeYolo}, nil)
	assert.Equal(t, ApprovalOnFailure, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxWorkspaceWrite, cfg.Sandbox)
}

func TestDeriveYoloMode(t *testing.T) {
	cfg := Derive(model.Mode{PermissionMode: model.PermissionModeYolo}, nil)
	assert.Equal(t, ApprovalOnFailure, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxDangerFull, cfg.Sandbox)
}

func TestDeriveUnknownModeFallsBackToDefault(t *testing.T) {
	cfg := Derive(model.Mode{PermissionMode: "bogus"}, nil)
	assert.Equal(t, ApprovalUntrusted, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxWorkspaceWrite, cfg.Sandbox)
}

func TestDeriveOverridesOnlyApplyInDefaultMode(t *testing.T) {
	overrides := &Overrides{ApprovalPolicy: ApprovalNever, Sandbox: SandboxReadOnly}

	cfg := Derive(model.Mode{PermissionMode: model.PermissionModeDefault}, overrides)
	assert.Equal(t, ApprovalNever, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxReadOnly, cfg.Sandbox)

	cfg = Derive(model.Mode{PermissionMode: model.PermissionModeYolo}, overrides)
	assert.Equal(t, ApprovalOnFailure, cfg.ApprovalPolicy, "overrides must not apply outside default mode")
	assert.Equal(t, SandboxDangerFull, cfg.Sandbox)
}

func TestDerivePartialOverrideLeavesOtherFieldDerived(t *testing.T) {
	cfg := Derive(model.Mode{PermissionMode: model.PermissionModeDefault}, &Overrides{ApprovalPolicy: ApprovalNever})
	assert.Equal(t, ApprovalNever, cfg.ApprovalPolicy)
	assert.Equal(t, SandboxWorkspaceWrite, cfg.Sandbox, "unset override field keeps the derived value")
}

func TestModeHashIsDeterministic(t *testing.T) {
	mode := model.Mode{PermissionMode: model.PermissionModeDefault, Model: "gpt-5", CollaborationMode: model.CollaborationModeDefault}
	assert.Equal(t, ModeHash(mode), ModeHash(mode))
}

func TestModeHashChangesWithAnyField(t *testing.T) {
	base := model.Mode{PermissionMode: model.PermissionModeDefault, Model: "gpt-5", CollaborationMode: model.CollaborationModeDefault}
	h := ModeHash(base)

	withMode := base
	withMode.PermissionMode = model.PermissionModeYolo
	assert.NotEqual(t, h, ModeHash(withMode))

	withModel := base
	withModel.Model = "gpt-5-mini"
	assert.NotEqual(t, h, ModeHash(withModel))

	withCollab := base
	withCollab.CollaborationMode = model.CollaborationModePlan
	assert.NotEqual(t, h, ModeHash(withCollab))
}
