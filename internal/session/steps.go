package session

import (
	"github.com/loykin/specsync/internal/config"
	"github.com/loykin/specsync/internal/env"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/pkgmgr"
)

// buildSteps derives the generation sequence from the client and frontend
// configuration. Link steps are only added with sync.autoLink and a package
// name to link.
func buildSteps(cfg *config.Config, e *env.Env) (generate, build pipeline.Step, link []pipeline.Step) {
	cl := cfg.Services.Client
	clientEnv := e.Merge(cl.Env)
	generate = pipeline.Step{Name: "generate", Command: cl.GenerateCommand, Dir: cl.Path, Env: clientEnv}
	if cl.BuildCommand != "" {
		build = pipeline.Step{Name: "build", Command: cl.BuildCommand, Dir: cl.Path, Env: clientEnv}
	}
	if !cfg.Sync.AutoLink || cl.PackageName == "" {
		return generate, build, nil
	}

	source := cl.LinkCommand
	if source == "" {
		source = pkgmgr.Detect(cl.Path).LinkSource()
	}
	link = append(link, pipeline.Step{Name: "link", Command: source, Dir: cl.Path, Env: clientEnv})

	if fe := cfg.Services.Frontend; fe != nil {
		into := fe.LinkCommand
		if into == "" {
			into = pkgmgr.Detect(fe.Path).LinkInto(cl.PackageName)
		}
		link = append(link, pipeline.Step{Name: "link-frontend", Command: into, Dir: fe.Path, Env: e.Merge(fe.Env)})
	}
	return generate, build, link
}

// UnlinkSteps undoes the frontend link made by the sync pipeline. It is
// empty when there is no frontend or no package name.
func UnlinkSteps(cfg *config.Config, e *env.Env) []pipeline.Step {
	cl, fe := cfg.Services.Client, cfg.Services.Frontend
	if fe == nil || cl.PackageName == "" {
		return nil
	}
	return []pipeline.Step{{
		Name:    "unlink-frontend",
		Command: pkgmgr.Detect(fe.Path).Unlink(cl.PackageName),
		Dir:     fe.Path,
		Env:     e.Merge(fe.Env),
	}}
}
