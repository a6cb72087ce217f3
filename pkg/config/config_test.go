package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	c := Default()
	c.DataDir = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsEmptyMetadataPath(t *testing.T) {
	c := Default()
	c.MetadataPath = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveLockTimeout(t *testing.T) {
	c := Default()
	c.LockTimeout = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsWorkspaceMaxBelowDefault(t *testing.T) {
	c := Default()
	c.WorkspaceDefaultTTL = 8 * time.Hour
	c.WorkspaceMaxTTL = 4 * time.Hour
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveRetentionDays(t *testing.T) {
	c := Default()
	c.SnapshotRetentionManualDays = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.SnapshotRetentionAutoDays = -1
	assert.Error(t, c.Validate())
}
