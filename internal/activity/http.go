package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lemline/lemline/internal/activity/security"
	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

// httpRunner executes Call HTTP tasks: resolve endpoint/method/headers/
// body from `with`, guard the URL against SSRF, issue the request, and
// shape the output per `output` (raw|content|response).
type httpRunner struct {
	client          *http.Client
	guard           *security.URLGuard
	authentications map[string]interface{}
}

func (r *httpRunner) run(ctx context.Context, node *engine.Node, input interface{}, scope dsl.Scope) (interface{}, error) {
	with, _ := node.TaskSpec["with"].(map[string]interface{})
	if with == nil {
		return nil, dsl.New(dsl.KindConfiguration, node.Position, "call HTTP requires a `with` block")
	}

	endpoint, err := resolveEndpoint(with["endpoint"])
	if err != nil {
		return nil, dsl.New(dsl.KindConfiguration, node.Position, "invalid endpoint").Wrap(err)
	}

	if err := r.guard.Validate(endpoint); err != nil {
		return nil, dsl.New(dsl.KindCommunication, node.Position, "endpoint rejected by URL guard").Wrap(err)
	}

	method, _ := with["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if body, ok := with["body"]; ok && body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, dsl.New(dsl.KindRuntime, node.Position, "failed to encode request body").Wrap(err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, dsl.New(dsl.KindCommunication, node.Position, "failed to build request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := with["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	if err := r.applyAuthentication(req, with["authentication"]); err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, dsl.New(dsl.KindCommunication, node.Position, "request failed").Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dsl.New(dsl.KindCommunication, node.Position, "failed to read response body").Wrap(err)
	}

	var parsed interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, dsl.New(dsl.KindCommunication, node.Position,
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode)).
			WithDetail("status", resp.StatusCode).WithDetail("body", parsed)
	}

	switch outputMode, _ := node.TaskSpec["output"].(string); outputMode {
	case "raw":
		return string(raw), nil
	case "response":
		return map[string]interface{}{
			"statusCode": resp.StatusCode,
			"headers":    flattenHeaders(resp.Header),
			"content":    parsed,
		}, nil
	default: // "content" is the DSL default
		return parsed, nil
	}
}

func (r *httpRunner) applyAuthentication(req *http.Request, ref interface{}) error {
	name, ok := ref.(string)
	if !ok || name == "" {
		return nil
	}
	cfg, ok := r.authentications[name].(map[string]interface{})
	if !ok {
		return dsl.New(dsl.KindConfiguration, "", fmt.Sprintf("undeclared authentication %q", name))
	}
	if basic, ok := cfg["basic"].(map[string]interface{}); ok {
		req.SetBasicAuth(fmt.Sprint(basic["username"]), fmt.Sprint(basic["password"]))
		return nil
	}
	if bearer, ok := cfg["bearer"].(map[string]interface{}); ok {
		req.Header.Set("Authorization", "Bearer "+fmt.Sprint(bearer["token"]))
		return nil
	}
	return dsl.New(dsl.KindConfiguration, "", fmt.Sprintf("unsupported authentication scheme for %q", name))
}

func resolveEndpoint(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if uri, ok := v["uri"].(string); ok {
			return uri, nil
		}
	}
	return "", fmt.Errorf("endpoint must be a string or an object with a `uri` field")
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
