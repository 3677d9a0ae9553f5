package taskplan

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// RenderScript renders the plan as a bash script. Signed URLs and file names are
// single-quoted so query strings reach wget and curl untouched.
func (p *Plan) RenderScript() string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -eo pipefail\n")
	if p.WorkDirEnv != "" {
		fmt.Fprintf(&b, "mkdir -p \"$%s\"\n", p.WorkDirEnv)
		fmt.Fprintf(&b, "cd \"$%s\"\n", p.WorkDirEnv)
	}

	b.WriteString("\necho '==> download input'\n")
	writeDownload(&b, p.Input.Name, p.Input.URL)

	b.WriteString("\necho '==> download references'\n")
	for _, dir := range p.referenceDirs() {
		fmt.Fprintf(&b, "mkdir -p %s\n", quoteArg(dir))
	}
	for _, r := range p.References {
		writeDownload(&b, path.Join(p.ReferenceDir, r.Name), r.URL)
	}

	for _, s := range p.Steps {
		fmt.Fprintf(&b, "\necho '==> %s'\n", s.Name)
		cmds := make([]string, len(s.Commands))
		for i, c := range s.Commands {
			cmds[i] = joinArgs(c)
		}
		line := strings.Join(cmds, " | ")
		if s.Stdout != "" {
			line += " > " + quoteArg(s.Stdout)
		}
		b.WriteString(line + "\n")
	}

	// set -e stops the script before this point on any failure.
	if p.Output.Condition == UploadOnSuccess {
		b.WriteString("\necho '==> upload result'\n")
		fmt.Fprintf(&b, "curl -fsS -X PUT --upload-file %s %s\n", quoteArg(p.Output.Path), shellQuote(p.Output.UploadURL))
	}
	return b.String()
}

// CommandLine is the argv handed to the batch service.
func (p *Plan) CommandLine() []string {
	return []string{"/bin/bash", "-c", p.RenderScript()}
}

func (p *Plan) referenceDirs() []string {
	seen := map[string]bool{p.ReferenceDir: true}
	for _, r := range p.References {
		seen[path.Join(p.ReferenceDir, path.Dir(r.Name))] = true
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func writeDownload(b *strings.Builder, dest, url string) {
	fmt.Fprintf(b, "wget -q -O %s %s\n", quoteArg(dest), shellQuote(url))
}

func joinArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = quoteArg(a)
	}
	return strings.Join(out, " ")
}

// quoteArg quotes a only when it contains characters the shell would treat
// specially.
func quoteArg(a string) string {
	if a == "" {
		return "''"
	}
	for _, r := range a {
		if !isSafe(r) {
			return shellQuote(a)
		}
	}
	return a
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}

// shellQuote wraps s in single quotes, closing and reopening around any
// embedded single quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
