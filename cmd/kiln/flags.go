package main

import (
	"flag"
	"fmt"
	"strings"
)

// paramFlag collects repeated --param NAME=VALUE flags.
type paramFlag map[string]string

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected NAME=VALUE, got %q", value)
	}
	p[name] = val
	return nil
}

// jobOptions are the flags job run and job check share.
type jobOptions struct {
	templatePath     string
	params           paramFlag
	workingDir       string
	pathMappingRules string
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func jobFlags(name string) (*flag.FlagSet, *jobOptions) {
	fs := newFlagSet(name)
	opts := &jobOptions{params: paramFlag{}}

	fs.StringVar(&opts.templatePath, "template", "job-template.yaml", "Job template path")
	fs.Var(opts.params, "param", "Job parameter NAME=VALUE (repeatable)")
	fs.Func("frames", "Shorthand for --param Frames=EXPR", func(v string) error {
		opts.params["Frames"] = v
		return nil
	})
	fs.StringVar(&opts.workingDir, "working-dir", "", "Session working directory (default: temp dir)")
	fs.StringVar(&opts.pathMappingRules, "path-mapping-rules", "", "Path mapping rules file")

	return fs, opts
}
