package remote

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// EnvironmentProbe describes what Probe discovers about the remote
// host's Python toolchain (Probe is called by the CondaEnvs handler).
type EnvironmentProbe struct {
	PythonPath    string
	PythonVersion string
	CondaEnvs     []string
	Venvs         []string
	RunicornFound bool
	RunicornPath  string
}

// Probe runs a short sequence of read-only commands over client to
// discover the remote Python toolchain. Every step is best-effort: a
// missing tool (no conda, no venv) is not an error, it just leaves that
// field empty.
func Probe(client *ssh.Client) (*EnvironmentProbe, error) {
	p := &EnvironmentProbe{}

	if out, err := runQuiet(client, "command -v python3 || command -v python"); err == nil {
		p.PythonPath = strings.TrimSpace(out)
	}
	if p.PythonPath != "" {
		if out, err := runQuiet(client, fmt.Sprintf("%s --version", shellQuote(p.PythonPath))); err == nil {
			p.PythonVersion = strings.TrimSpace(out)
		}
	}

	if out, err := runQuiet(client, "conda env list --json 2>/dev/null"); err == nil && out != "" {
		p.CondaEnvs = parseCondaEnvList(out)
	}

	if out, err := runQuiet(client, "find \"$HOME\" -maxdepth 3 -name 'pyvenv.cfg' 2>/dev/null"); err == nil {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			p.Venvs = append(p.Venvs, strings.TrimSuffix(line, "/pyvenv.cfg"))
		}
	}

	if out, err := runQuiet(client, "command -v runicorn"); err == nil && strings.TrimSpace(out) != "" {
		p.RunicornFound = true
		p.RunicornPath = strings.TrimSpace(out)
	} else if p.PythonPath != "" {
		if out, err := runQuiet(client, fmt.Sprintf("%s -c \"import runicorn, sys; print(runicorn.__file__)\"", shellQuote(p.PythonPath))); err == nil && strings.TrimSpace(out) != "" {
			p.RunicornFound = true
		}
	}

	return p, nil
}

func runQuiet(client *ssh.Client, cmd string) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	var stdout bytes.Buffer
	sess.Stdout = &stdout
	if err := sess.Run(cmd); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// parseCondaEnvList extracts environment paths from `conda env list
// --json`'s {"envs": [...]} document without pulling in encoding/json for
// a single field, since the rest of the output (channel URLs etc.) is
// never needed.
func parseCondaEnvList(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < 0 || end <= start {
		return nil
	}
	var envs []string
	for _, tok := range strings.Split(raw[start+1:end], ",") {
		tok = strings.TrimSpace(tok)
		tok = strings.Trim(tok, "\"")
		if tok != "" {
			envs = append(envs, tok)
		}
	}
	return envs
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
