// pkg/assemble/templates.go
package assemble

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/arc-language/reloc/pkg/install"
	"github.com/arc-language/reloc/pkg/platform"
)

// installScript performs the same steps as the Go installer for devices
// that only have a POSIX shell
var installScript = template.Must(template.New("install").Parse(`#!/bin/sh
# Installs {{.Name}} ({{.Arch}}) into {{.Paths.Prefix}}.
# Generated by reloc {{.Tool}}. Safe to run again after a failure.
set -eu

here=$(cd "$(dirname "$0")" && pwd)
prefix="{{.Paths.Prefix}}"
store="{{.Paths.StoreDir}}"
state="{{.Paths.StateDir}}"
conf="{{.Paths.ConfDir}}"

warn() {
	echo "warning: $*" >&2
}

machine=$(uname -m)
case "$machine" in
{{- range .Machines}}
	{{.Pattern}}) machine={{.Arch}} ;;
{{- end}}
esac
if [ "$machine" != "{{.Arch}}" ]; then
	echo "error: this archive is for {{.Arch}}, this machine is $machine" >&2
	exit 1
fi

mkdir -p "$store" "$state/db" "$state/gcroots" "$state/profiles" "$conf"

failed=0
for src in "$here"/store/*; do
	[ -e "$src" ] || [ -L "$src" ] || continue
	name=${src##*/}
	if [ -e "$store/$name" ] || [ -L "$store/$name" ]; then
		continue
	fi
	rm -rf "$store/.$name.partial"
	if cp -RP "$src" "$store/.$name.partial" && mv "$store/.$name.partial" "$store/$name"; then
		:
	else
		rm -rf "$store/.$name.partial"
		warn "could not copy $name"
		failed=$((failed + 1))
	fi
done
if [ "$failed" -ne 0 ]; then
	warn "$failed artifacts could not be copied, run this script again to retry"
fi

nix_store=
for tool in "$store"/*/bin/nix-store; do
	if [ -x "$tool" ]; then
		nix_store=$tool
	fi
done
if [ -n "$nix_store" ]; then
	NIX_STORE_DIR="$store" NIX_STATE_DIR="$state" NIX_CONF_DIR="$conf" \
		"$nix_store" --load-db < "$here/registration"
else
	warn "nix-store not found in $store, database import skipped"
fi

user=$(id -un 2>/dev/null || true)
if [ -n "$user" ]; then
	profile="$state/profiles/per-user/$user/profile"
	if mkdir -p "${profile%/*}" && ln -sfn "$store/{{.FirstRoot}}" "$profile"; then
		ln -sfn "$profile" "$state/gcroots/profile" || warn "could not create gc root"
	else
		warn "could not link profile"
	fi
else
	warn "cannot determine user, profile link skipped"
fi

cat > "$conf/nix.conf.tmp" <<'RELOC_EOF'
{{.NixConf}}RELOC_EOF
mv "$conf/nix.conf.tmp" "$conf/nix.conf"

cat > "$conf/env.sh.tmp" <<'RELOC_EOF'
{{.EnvScript}}RELOC_EOF
mv "$conf/env.sh.tmp" "$conf/env.sh"

echo "installed into $prefix"
echo "run: . $conf/env.sh"
`))

var readme = template.Must(template.New("README").Parse(`{{.Name}} for {{.Arch}} ({{.System}})
{{.Rule}}

A relocated Nix store closure. Every artifact was built for {{.SourcePrefix}}
and has been prepared to run from {{.Paths.Prefix}}.

Contents
  store/          {{.Artifacts}} store objects
  registration    store database records, dependencies first
  install         installer script
  manifest.yaml   build details and rewrite statistics

Roots
{{- range .Roots}}
  {{.}}
{{- end}}

Installing
  ./install
  . {{.Paths.ConfDir}}/env.sh

The installer may be run again at any time. Artifacts that are already
present are left alone and missing ones are copied.

Processes using this store need NIX_STORE_DIR, NIX_STATE_DIR and
NIX_CONF_DIR set as in env.sh.
{{- if .Rewrite.Refused}}

{{.Rewrite.Refused}} binaries still name an interpreter under {{.SourcePrefix}}
and will not start on the device. See manifest.yaml for the list.
{{- end}}
`))

// machineCase is one arm of the install script's uname table
type machineCase struct {
	Pattern string
	Arch    string
}

// machineCases renders the aliases ParseArch accepts so the script and the
// Go installer map machines identically
func machineCases() []machineCase {
	aliases := platform.Aliases()
	cases := make([]machineCase, 0, len(aliases))
	for _, a := range platform.AllArchs {
		if names := aliases[a]; len(names) > 0 {
			cases = append(cases, machineCase{Pattern: strings.Join(names, "|"), Arch: a.String()})
		}
	}
	return cases
}

type templateData struct {
	Name         string
	Arch         string
	System       string
	Tool         string
	SourcePrefix string
	Paths        install.Paths
	FirstRoot    string
	Roots        []string
	Artifacts    int
	NixConf      string
	EnvScript    string
	Machines     []machineCase
	Rewrite      struct{ Refused int }
}

// Rule underlines the README title
func (d templateData) Rule() string {
	return string(bytes.Repeat([]byte("="), len(d.Name)+len(d.Arch)+len(d.System)+8))
}

func execute(t *template.Template, data templateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
