package workflow

import (
	"fmt"
	"time"
)

// MissingRequiredError is returned when a workflow's declared required
// variable has no bound value after resolution.
type MissingRequiredError struct {
	Variable string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing required variable: %s", e.Variable)
}

// FeatureResolver supplies feature-scoped variables (the highest-priority
// resolution layer) for workflows that declare RequiresFeature. It is
// satisfied by internal/featurepath.Resolver.
type FeatureResolver interface {
	ResolveVariables(params map[string]string) (map[string]string, error)
}

// Resolver resolves variables for a workflow instance according to the
// fixed, six-layer precedence (lowest to highest):
//  1. process-wide defaults (date, timestamp)
//  2. system-wide config defaults
//  3. user config overrides
//  4. workflow-declared defaults
//  5. caller-provided params
//  6. feature-name resolution (only if the workflow requires feature scope)
type Resolver struct {
	SystemDefaults map[string]string
	UserOverrides  map[string]string
	Feature        FeatureResolver
	Now            func() time.Time // overridable for tests
}

// NewResolver creates a Resolver with the given system/user layers. Now
// defaults to time.Now.
func NewResolver(systemDefaults, userOverrides map[string]string, feature FeatureResolver) *Resolver {
	return &Resolver{
		SystemDefaults: systemDefaults,
		UserOverrides:  userOverrides,
		Feature:        feature,
		Now:            time.Now,
	}
}

// Resolve produces the final variable bindings for def given caller-supplied
// params, applying all six layers in order, then verifies every required
// variable is bound.
func (r *Resolver) Resolve(def *Definition, params map[string]string) (map[string]string, error) {
	now := r.Now()
	bound := map[string]string{
		"date":      now.Format("2006-01-02"),
		"timestamp": now.Format(time.RFC3339),
	}

	for k, v := range r.SystemDefaults {
		bound[k] = v
	}
	for k, v := range r.UserOverrides {
		bound[k] = v
	}
	for _, v := range def.Variables {
		if v.Default != "" {
			bound[v.Name] = v.Default
		}
	}
	for k, v := range params {
		bound[k] = v
	}

	if def.RequiresFeature && r.Feature != nil {
		featureVars, err := r.Feature.ResolveVariables(params)
		if err != nil {
			return nil, err
		}
		for k, v := range featureVars {
			bound[k] = v
		}
	}

	for _, v := range def.Variables {
		if v.Required {
			if _, ok := bound[v.Name]; !ok {
				return nil, &MissingRequiredError{Variable: v.Name}
			}
		}
	}

	return bound, nil
}
