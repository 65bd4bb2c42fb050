// pkg/install/files.go
package install

import (
	"bytes"
	"text/template"

	"github.com/arc-language/reloc/pkg/core"
)

var nixConfTemplate = template.Must(template.New("nix.conf").Parse(`# Generated by reloc. Rewritten on every install.
store = local?store={{.StoreDir}}&state={{.StateDir}}
# No binary cache serves the relocated store
substituters =
sandbox = false
build-users-group =
`))

var envTemplate = template.Must(template.New("env.sh").Parse(`# Generated by reloc. Source this file before using the relocated store.
export NIX_STORE_DIR="{{.StoreDir}}"
export NIX_STATE_DIR="{{.StateDir}}"
export NIX_CONF_DIR="{{.ConfDir}}"
{{- if .Profile}}
if [ -d "{{.Profile}}/bin" ]; then
	export PATH="{{.Profile}}/bin:$PATH"
fi
{{- end}}
`))

// Paths are the locations derived from a destination prefix
type Paths struct {
	Prefix   string
	StoreDir string
	StateDir string
	ConfDir  string
	Profile  string // per-user profile link, empty when unknown
}

// PathsFor derives the layout below prefix for user
func PathsFor(prefix, user string) Paths {
	p := Paths{
		Prefix:   prefix,
		StoreDir: core.StoreDir(prefix),
		StateDir: core.StateDir(prefix),
		ConfDir:  core.ConfDir(prefix),
	}
	if user != "" {
		p.Profile = p.StateDir + "/profiles/per-user/" + user + "/profile"
	}
	return p
}

// Env returns the environment variables that point nix at the prefix
func (p Paths) Env() []string {
	return []string{
		"NIX_STORE_DIR=" + p.StoreDir,
		"NIX_STATE_DIR=" + p.StateDir,
		"NIX_CONF_DIR=" + p.ConfDir,
	}
}

// NixConf renders etc/nix/nix.conf
func NixConf(p Paths) string {
	return render(nixConfTemplate, p)
}

// EnvScript renders etc/nix/env.sh
func EnvScript(p Paths) string {
	return render(envTemplate, p)
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic(err)
	}
	return buf.String()
}
