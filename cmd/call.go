package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/dispatch"
	"github.com/bbye98/minim/internal/shared"
	"github.com/urfave/cli/v3"
)

// Call dispatches a raw API request through the full pipeline: cache, scope
// check, token freshness, rate limiting, and invalid-token recovery.
func (r *Runner) Call(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("provider")
	path := cmd.StringArg("path")
	if name == "" || path == "" {
		return fmt.Errorf("%w: provider and path", shared.ErrMissingArgument)
	}

	client, err := r.client(name)
	if err != nil {
		return err
	}

	query := url.Values{}
	for _, pair := range cmd.StringSlice("query") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("%w: query parameter %q is not key=value", shared.ErrInvalidArgument, pair)
		}
		query.Add(key, value)
	}

	var scopes []string
	if raw := cmd.String("scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
	}

	method := strings.ToUpper(cmd.String("method"))
	req := dispatch.Request{
		Name:           name + "." + strings.Trim(path, "/"),
		Method:         method,
		Path:           path,
		Query:          query,
		RequiredScopes: scopes,
		Cacheable:      method == "GET" && !cmd.Bool("no-cache"),
		CacheCategory:  cache.Search,
	}
	if data := cmd.String("data"); data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("%w: body is not valid JSON", shared.ErrInvalidInput)
		}
		req.Body = []byte(data)
	}

	resp, err := client.Dispatcher.Call(ctx, req)
	if err != nil {
		return err
	}

	if cmd.Bool("pretty") && json.Valid(resp.Body) {
		var decoded any
		if err := json.Unmarshal(resp.Body, &decoded); err == nil {
			return r.writeJSON(decoded, true)
		}
	}
	return r.writePlain("%s\n", resp.Body)
}
