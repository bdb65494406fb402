package terraform

// ResourceDefinitionsKey is the top-level variable under which
// per-resource variable maps are nested during a merge.
const ResourceDefinitionsKey = "resource_definitions"

// MergeVariables builds the single variable set handed to Terraform for
// an environment-level operation.
//
// Precedence, lowest to highest:
//  1. the environment's global variables (copied, never mutated);
//  2. a nested resource_definitions map keyed by resource name, holding
//     each resource's own variables; resources without variables are
//     omitted, and resource values never shadow globals at the top
//     level;
//  3. explicit per-call overrides, last-writer-wins at the top level.
//
// Resource names are unique within an environment by construction (the
// input is keyed by name), so the nested map cannot drop definitions.
func MergeVariables(
	globals map[string]interface{},
	resourceVarsByName map[string]map[string]interface{},
	overrides map[string]interface{},
) map[string]interface{} {
	merged := make(map[string]interface{}, len(globals)+2)
	for k, v := range globals {
		merged[k] = v
	}

	definitions := make(map[string]interface{})
	for name, vars := range resourceVarsByName {
		if len(vars) == 0 {
			continue
		}
		resourceVars := make(map[string]interface{}, len(vars))
		for k, v := range vars {
			resourceVars[k] = v
		}
		definitions[name] = resourceVars
	}
	if len(definitions) > 0 {
		merged[ResourceDefinitionsKey] = definitions
	}

	for k, v := range overrides {
		merged[k] = v
	}

	return merged
}
