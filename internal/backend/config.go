package backend

import (
	"fmt"

	"envelopes/internal/config"
)

// BackendType selects where the ledger mirror writes.
type BackendType string

const (
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
	NoneBackend   BackendType = "none"
)

func (t BackendType) IsValid() bool {
	switch t {
	case SheetsBackend, MemoryBackend, NoneBackend:
		return true
	}
	return false
}

func (t BackendType) String() string {
	return string(t)
}

// Config describes the mirror backend.
type Config struct {
	Type BackendType

	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// FromAppConfig converts the application config to backend config. Without an
// explicit MIRROR_BACKEND the spreadsheet id decides between sheets and none.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.MirrorBackend)
	if backendType == "" {
		backendType = NoneBackend
		if appConfig.MirrorEnabled() {
			backendType = SheetsBackend
		}
	}
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid mirror backend in config: %s", appConfig.MirrorBackend)
	}

	c := Config{
		Type:                     backendType,
		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}
	return c, c.Validate()
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid mirror backend: %s", c.Type)
	}
	if c.Type == SheetsBackend && c.GoogleSpreadsheetID == "" {
		return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := []BackendType{SheetsBackend, MemoryBackend, NoneBackend}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
