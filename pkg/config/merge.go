package config

import "dario.cat/mergo"

// mergeSettings merges a user-provided settings document onto the
// built-in defaults. User values win; slices and maps are replaced
// wholesale rather than appended, matching mergo's default transformer
// behavior for this codebase's built-in+override merge pattern.
func mergeSettings(builtin, user *Settings) (*Settings, error) {
	merged := *builtin
	mergedTemplates := make(map[string]ClusterTemplate, len(builtin.Templates))
	for id, t := range builtin.Templates {
		mergedTemplates[id] = t
	}
	merged.Templates = mergedTemplates

	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return nil, err
	}

	// mergo.WithOverride merges the Templates map by key, but a
	// zero-value override can't distinguish "absent" from "empty
	// struct", so defined user templates fully replace the built-in
	// entry with the same ID rather than field-merging into it.
	for id, t := range user.Templates {
		merged.Templates[id] = t
	}

	return &merged, nil
}
