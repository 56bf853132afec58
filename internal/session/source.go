package session

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loykin/specsync/internal/config"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/watch"
)

// RuntimePrefix marks a contract served by the running backend, as in
// "runtime:/openapi.json".
const RuntimePrefix = "runtime:"

// ResolveSource maps the configured contract address to a source and an
// observation mode:
//
//	runtime:/openapi.json   poll http://localhost:<backend port>/openapi.json
//	/openapi.json           same as above
//	http(s)://host/spec     poll that URL
//	openapi.json            watch <backend path>/openapi.json
func ResolveSource(cfg *config.Config) (pipeline.Source, pipeline.Mode, watch.Options, error) {
	be := cfg.Services.Backend
	p := strings.TrimSpace(be.APISpec.Path)
	switch {
	case strings.HasPrefix(p, "http://"), strings.HasPrefix(p, "https://"):
		return pipeline.HTTPSource{URL: p}, pipeline.ModePoll, watch.Options{}, nil
	case strings.HasPrefix(p, RuntimePrefix), strings.HasPrefix(p, "/"):
		path := strings.TrimPrefix(p, RuntimePrefix)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		if be.Port == 0 {
			return nil, "", watch.Options{}, fmt.Errorf("contract %q is served by the backend, which needs services.backend.port", p)
		}
		return pipeline.HTTPSource{URL: fmt.Sprintf("http://localhost:%d%s", be.Port, path)}, pipeline.ModePoll, watch.Options{}, nil
	case p == "":
		return nil, "", watch.Options{}, fmt.Errorf("services.backend.apiSpec.path is required")
	}

	file := filepath.Join(be.Path, p)
	ignore := cfg.Sync.Ignore
	if len(ignore) == 0 {
		ignore = watch.DefaultIgnore
	}
	return pipeline.FileSource{Path: file}, pipeline.ModeWatch, watch.Options{
		Root:   be.Path,
		Files:  []string{file},
		Globs:  be.APISpec.Watch,
		Ignore: ignore,
	}, nil
}
