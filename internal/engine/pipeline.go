package engine

import "github.com/lemline/lemline/internal/dsl"

// pipelineResult carries the outputs of the transformation pipeline a
// node's execute() needs downstream.
type pipelineResult struct {
	transformedInput interface{}
	skip             bool // "if" evaluated false: body must not run
}

// runInputStage applies steps 1-3 of the transformation pipeline
// (§4.4): input schema validation, `input.from`, and `if`.
func (ni *NodeInstance) runInputStage(rawInput interface{}) (pipelineResult, error) {
	spec := ni.Node.TaskSpec
	scope := ni.scope(rawInput, nil)

	if inputSpec, ok := spec["input"].(map[string]interface{}); ok {
		if schema, ok := inputSpec["schema"]; ok {
			if err := ni.instance.Schema.ValidateRaw(rawInput, schema, ni.Node.Position); err != nil {
				return pipelineResult{}, err
			}
		}
	}

	transformed := rawInput
	if inputSpec, ok := spec["input"].(map[string]interface{}); ok {
		if from, ok := inputSpec["from"]; ok {
			v, err := ni.evalTransform(rawInput, from, scope)
			if err != nil {
				return pipelineResult{}, err
			}
			transformed = v
		}
	}

	if ifExpr, ok := spec["if"].(string); ok && ifExpr != "" {
		scope = ni.scope(transformed, nil)
		ok, err := ni.instance.Eval.EvalBoolean(transformed, ifExpr, scope, true, ni.Node.Position)
		if err != nil {
			return pipelineResult{}, err
		}
		if !ok {
			return pipelineResult{transformedInput: transformed, skip: true}, nil
		}
	}

	return pipelineResult{transformedInput: transformed}, nil
}

// runOutputStage applies steps 5-7: `output.as`, output schema
// validation, and `export.as` (plus export schema validation).
func (ni *NodeInstance) runOutputStage(transformedInput, rawOutput interface{}) (interface{}, error) {
	spec := ni.Node.TaskSpec
	scope := ni.scope(transformedInput, rawOutput)

	transformedOutput := rawOutput
	if outputSpec, ok := spec["output"].(map[string]interface{}); ok {
		if as, ok := outputSpec["as"]; ok {
			v, err := ni.evalTransform(rawOutput, as, scope)
			if err != nil {
				return nil, err
			}
			transformedOutput = v
		}
		if schema, ok := outputSpec["schema"]; ok {
			if err := ni.instance.Schema.ValidateRaw(transformedOutput, schema, ni.Node.Position); err != nil {
				return nil, err
			}
		}
	}

	if exportSpec, ok := spec["export"].(map[string]interface{}); ok {
		scope = ni.scope(transformedInput, transformedOutput)
		if as, ok := exportSpec["as"]; ok {
			newCtx, err := ni.evalTransform(transformedOutput, as, scope)
			if err != nil {
				return nil, err
			}
			if schema, ok := exportSpec["schema"]; ok {
				if err := ni.instance.Schema.ValidateRaw(newCtx, schema, ni.Node.Position); err != nil {
					return nil, err
				}
			}
			ni.instance.setContext(newCtx)
		}
	}

	return transformedOutput, nil
}

// evalTransform evaluates a templated-object-or-expression node value
// (`input.from`, `output.as`, `export.as`, `set`) against input/scope.
func (ni *NodeInstance) evalTransform(input interface{}, node interface{}, scope dsl.Scope) (interface{}, error) {
	if s, ok := node.(string); ok {
		return ni.instance.Eval.Eval(input, s, scope, false, ni.Node.Position)
	}
	return ni.instance.Eval.EvalTemplate(input, node, scope, ni.Node.Position)
}
