package activity

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

// runRunner executes Run tasks: `run.shell`/`run.script` spawn a local
// process via os/exec; `run.container` shells out to `docker run` since
// the pack carries no Docker SDK. `run.workflow` (sub-workflow
// invocation) is out of scope for a single-process runtime and reports
// CONFIGURATION. `await` (default true) controls whether the task
// blocks for the process to finish; when it does, `return` selects
// what the task's rawOutput is built from.
type runRunner struct{}

func (r *runRunner) run(ctx context.Context, node *engine.Node, input interface{}, scope dsl.Scope) (interface{}, error) {
	spec, _ := node.TaskSpec["run"].(map[string]interface{})
	if spec == nil {
		return nil, dsl.New(dsl.KindConfiguration, node.Position, "run requires a `run` block")
	}

	await := true
	if v, ok := spec["await"].(bool); ok {
		await = v
	}
	returnMode, err := parseReturnMode(spec["return"], node.Position)
	if err != nil {
		return nil, err
	}

	var name string
	var args []string
	switch {
	case spec["shell"] != nil:
		name, args, err = shellProcess(spec["shell"], node.Position)
	case spec["script"] != nil:
		name, args, err = scriptProcess(spec["script"], node.Position)
	case spec["container"] != nil:
		name, args, err = containerProcess(spec["container"], node.Position)
	case spec["workflow"] != nil:
		return nil, dsl.New(dsl.KindConfiguration, node.Position, "sub-workflow invocation is not supported by this runtime")
	default:
		return nil, dsl.New(dsl.KindConfiguration, node.Position, "run block names no known process kind")
	}
	if err != nil {
		return nil, err
	}

	if !await {
		cmd := exec.CommandContext(context.Background(), name, args...)
		if err := cmd.Start(); err != nil {
			return nil, dsl.New(dsl.KindCommunication, node.Position, "failed to start process").Wrap(err)
		}
		go cmd.Wait()
		return input, nil
	}

	return runAndCollect(ctx, node, name, args, returnMode)
}

type returnMode string

const (
	returnStdout returnMode = "stdout"
	returnStderr returnMode = "stderr"
	returnCode   returnMode = "code"
	returnAll    returnMode = "all"
	returnNone   returnMode = "none"
)

func parseReturnMode(raw interface{}, position string) (returnMode, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return returnStdout, nil
	}
	switch returnMode(s) {
	case returnStdout, returnStderr, returnCode, returnAll, returnNone:
		return returnMode(s), nil
	default:
		return "", dsl.Newf(dsl.KindConfiguration, position, "unsupported run `return` value %q", s)
	}
}

func shellProcess(raw interface{}, position string) (string, []string, error) {
	spec, _ := raw.(map[string]interface{})
	command, _ := spec["command"].(string)
	if command == "" {
		return "", nil, dsl.New(dsl.KindConfiguration, position, "shell run requires a `command`")
	}
	args := append([]string{"-c", command}, stringArgs(spec["arguments"])...)
	return "sh", args, nil
}

func scriptProcess(raw interface{}, position string) (string, []string, error) {
	spec, _ := raw.(map[string]interface{})
	language, _ := spec["language"].(string)
	code, _ := spec["code"].(string)
	if code == "" {
		return "", nil, dsl.New(dsl.KindConfiguration, position, "script run requires `code`")
	}
	interpreter, ok := interpreterFor(language)
	if !ok {
		return "", nil, dsl.Newf(dsl.KindConfiguration, position, "unsupported script language %q", language)
	}
	return interpreter, []string{"-c", code}, nil
}

func containerProcess(raw interface{}, position string) (string, []string, error) {
	spec, _ := raw.(map[string]interface{})
	image, _ := spec["image"].(string)
	if image == "" {
		return "", nil, dsl.New(dsl.KindConfiguration, position, "container run requires an `image`")
	}
	args := append([]string{"run", "--rm", image}, stringArgs(spec["command"])...)
	return "docker", args, nil
}

// runAndCollect blocks for the process to finish and shapes the result
// per returnMode. A non-zero exit is always a COMMUNICATION error
// (spec.md's Run semantics), regardless of returnMode.
func runAndCollect(ctx context.Context, node *engine.Node, name string, args []string, mode returnMode) (interface{}, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	code := cmd.ProcessState.ExitCode()

	if runErr != nil {
		return nil, dsl.New(dsl.KindCommunication, node.Position, "process execution failed").
			Wrap(runErr).
			WithDetail("stderr", stderr.String()).
			WithDetail("code", code)
	}

	switch mode {
	case returnStdout:
		return stdout.String(), nil
	case returnStderr:
		return stderr.String(), nil
	case returnCode:
		return code, nil
	case returnAll:
		return map[string]interface{}{
			"code":   code,
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		}, nil
	case returnNone:
		return nil, nil
	default:
		return stdout.String(), nil
	}
}

func interpreterFor(language string) (string, bool) {
	switch strings.ToLower(language) {
	case "python", "python3":
		return "python3", true
	case "js", "javascript", "node":
		return "node", true
	case "", "sh", "shell", "bash":
		return "sh", true
	default:
		return "", false
	}
}

func stringArgs(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, fmt.Sprint(v))
	}
	return out
}
