package gitops

import (
	"context"
	"fmt"

	"github.com/danmuck/n8nctl/internal/envschema"
	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/render"
)

type ValidateOptions struct {
	Source
	Strict              bool
	EnforceNoInlineCode bool
	EnforceChecksum     bool
	RequireChecksum     bool
	// Environ is checked against requires_env and env.schema.json. nil
	// means the process environment.
	Environ map[string]string
}

// ValidateReport collects every finding of one validate run.
type ValidateReport struct {
	Snapshot  string
	Workflows int
	Errors    []string
	Warnings  []string
	Includes  map[string][]render.Report
}

func (r *ValidateReport) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidateReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Failed reports whether the run failed under strict.
func (r ValidateReport) Failed(strict bool) bool {
	return len(r.Errors) > 0 || (strict && len(r.Warnings) > 0)
}

// Validate checks the manifest, every workflow document and its includes,
// and the environment. Manifest failures return immediately; everything
// else is collected into the report.
func Validate(ctx context.Context, scope invocation.Scope, opts ValidateOptions) (ValidateReport, error) {
	report := ValidateReport{Includes: make(map[string][]render.Report)}
	src, err := opts.Source.load(ctx)
	if err != nil {
		return report, err
	}
	report.Snapshot = src.snap.Describe()
	report.Workflows = len(src.manifest.Workflows)
	log := scope.Logger.With().Str("snapshot", report.Snapshot).Logger()
	out := scope.Output()

	environ := opts.Environ
	if environ == nil {
		environ = envschema.Environ()
	}
	renderOpts := render.Options{
		EnforceChecksum: opts.EnforceChecksum,
		RequireChecksum: opts.RequireChecksum,
		Strict:          opts.Strict,
	}

	for _, spec := range src.manifest.Workflows {
		doc, rel, err := src.readWorkflow(spec)
		if err != nil {
			report.errorf("%v", err)
			continue
		}
		if name, err := doc.StringField("name"); err == nil && name != spec.Name {
			report.warnf("workflow %q: %s declares name %q", spec.Name, rel, name)
		}

		_, includes, rerr := render.Render(doc, src.snap, src.n8nRoot, renderOpts)
		report.Includes[spec.Name] = includes
		printIncludes(out, spec.Name, includes)
		for _, inc := range includes {
			switch {
			case inc.Fatal:
				report.errorf("workflow %q: %s", spec.Name, inc)
			case inc.Status != render.StatusIncluded:
				report.warnf("workflow %q: %s", spec.Name, inc)
			default:
				log.Debug().Str("workflow", spec.Name).Str("path", inc.Path).Msg("include resolved")
			}
		}
		if rerr != nil {
			log.Debug().Err(rerr).Str("workflow", spec.Name).Msg("render failed")
		}

		if opts.EnforceNoInlineCode {
			for _, f := range render.InlineCode(doc) {
				report.errorf("workflow %q: node %q field %s has inline code", spec.Name, f.Node, f.Field)
			}
		}

		for _, issue := range envschema.CheckRequired(spec.RequiresEnv, environ) {
			report.errorf("workflow %q: %s", spec.Name, issue)
		}

		declared := make(map[string]bool, len(spec.RequiresCredentials))
		for _, c := range spec.RequiresCredentials {
			declared[c] = true
		}
		for _, ref := range credentialRefs(doc) {
			if !declared[ref.Name] {
				report.warnf("workflow %q: node credential %q (%s) not listed in requires_credentials", spec.Name, ref.Name, ref.Type)
			}
		}
	}

	schema, err := envschema.Load(src.snap, src.n8nRoot)
	if err != nil {
		report.errorf("%v", err)
	} else if schema != nil {
		for _, issue := range schema.Check(environ) {
			report.errorf("%s", issue)
		}
	}

	for _, w := range report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}

	if report.Failed(opts.Strict) {
		log.Warn().Int("errors", len(report.Errors)).Int("warnings", len(report.Warnings)).Msg("validation failed")
		return report, fmt.Errorf("%w: %d error(s), %d warning(s)%s", ErrValidation,
			len(report.Errors), len(report.Warnings), strictSuffix(opts.Strict, report))
	}
	fmt.Fprintf(out, "Validated %d workflow(s) from %s\n", report.Workflows, report.Snapshot)
	return report, nil
}

func strictSuffix(strict bool, r ValidateReport) string {
	if strict && len(r.Errors) == 0 {
		return " (warnings are fatal in strict mode)"
	}
	return ""
}
