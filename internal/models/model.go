package models

import "time"

// Model phases reported by the backend resolver.
const (
	// PhasePending means the backend has not been resolved yet.
	PhasePending = "Pending"
	// PhaseReady means the backend resolved and answered a readiness probe.
	PhaseReady = "Ready"
	// PhaseFailed means the backend could not be resolved or probed.
	PhaseFailed = "Failed"
)

// Backend reference kinds accepted in model declarations.
const (
	// RefKindLLMBackend points at a hosted inference service managed in-cluster.
	RefKindLLMBackend = "LLMBackend"
	// RefKindExternalModel points at an externally hosted endpoint.
	RefKindExternalModel = "ExternalModel"
)

// Model declares a deployed inference backend exposed through the gateway.
// Endpoint and Phase are written only by the backend resolver.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:text;not null;uniqueIndex"` // Unique model identifier.

	RefKind      string `gorm:"type:text;not null"` // Backend reference kind.
	RefName      string `gorm:"type:text;not null"` // Backend reference name.
	RefNamespace string `gorm:"type:text"`          // Optional backend namespace.

	Endpoint string `gorm:"type:text"`                            // Resolved endpoint URL.
	Phase    string `gorm:"type:text;not null;default:'Pending'"` // Readiness phase.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Ready reports whether the model can serve traffic.
func (m Model) Ready() bool {
	return m.Phase == PhaseReady && m.Endpoint != ""
}
