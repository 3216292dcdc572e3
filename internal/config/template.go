package config

import (
	"bytes"
	"os"
	"regexp"
	"strings"
	"text/template"
)

type templateContext struct {
	ENV map[string]string
}

var missingKeyRegex = regexp.MustCompile(`map has no entry for key "(.*?)"`)

// expandEnv replaces {{ .ENV.VAR }} placeholders in a config file with values from the
// environment. Referencing an unset variable is an error.
func expandEnv(content []byte) ([]byte, error) {
	if !bytes.Contains(content, []byte("{{")) {
		return content, nil
	}
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	tmpl, err := template.New("config").Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, ErrInvalidConfig.MsgErr("invalid template in config file", err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, templateContext{ENV: env}); err != nil {
		if m := missingKeyRegex.FindStringSubmatch(err.Error()); len(m) == 2 {
			return nil, ErrInvalidConfig.Msg("missing environment variable: " + m[1] + " (set it in your shell or .env file)")
		}
		return nil, ErrInvalidConfig.MsgErr("invalid template in config file", err)
	}
	return out.Bytes(), nil
}
