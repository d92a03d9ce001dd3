package orchestration

import (
	"context"

	"github.com/bl4ck0w1/easmscan/pkg/models"
)

// Capability is a single detector. Implementations must be safe for
// concurrent use; one instance serves every in-flight scan.
type Capability interface {
	ID() string
	Name() string
	Description() string
	// Execute returns the issues found for target. An empty slice means
	// nothing was found.
	Execute(ctx context.Context, target models.Target, opts models.Options) ([]models.Issue, error)
}

type CapabilityInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

func Describe(c Capability) CapabilityInfo {
	return CapabilityInfo{ID: c.ID(), Name: c.Name(), Description: c.Description()}
}
