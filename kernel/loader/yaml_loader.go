package loader

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
	"gopkg.in/yaml.v2"
)

type DocumentYaml struct {
	Model     ModelYaml              `yaml:"model"`
	Host      *HostYaml              `yaml:"host"`
	Vars      map[string]interface{} `yaml:"vars"`
	Resources []ResourceYaml         `yaml:"resources"`
	Probes    []ProbeYaml            `yaml:"probes"`
}

type ModelYaml struct {
	Id string `yaml:"id"`
}

type HostYaml struct {
	Address    string        `yaml:"address"`
	User       string        `yaml:"user"`
	KeyPath    string        `yaml:"key_path"`
	KnownHosts string        `yaml:"known_hosts"`
	Insecure   bool          `yaml:"insecure"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ResourceYaml struct {
	Kind         string   `yaml:"kind"`
	Identity     string   `yaml:"identity"`
	Template     string   `yaml:"template"`
	TemplateFile string   `yaml:"template_file"`
	Mode         string   `yaml:"mode"`
	RuntimeState string   `yaml:"runtime_state"`
	DependsOn    []string `yaml:"depends_on"`
	EnableLink   string   `yaml:"enable_link"`
	UnitPath     string   `yaml:"unit_path"`
	OnChange     string   `yaml:"on_change"`
	Validate     []string `yaml:"validate"`
}

type ProbeYaml struct {
	Name     string        `yaml:"name"`
	Url      string        `yaml:"url"`
	Expect   []int         `yaml:"expect"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  *RetryYaml    `yaml:"retries"`
	JsonPath string        `yaml:"json_path"`
	Equals   string        `yaml:"equals"`
}

type RetryYaml struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LoadModel reads a target model document. Every failure is a *model.ConfigError.
func LoadModel(path string) (*model.TargetModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ConfigError{Source: path, Err: err}
	}
	return ParseModel(data, path, filepath.Dir(path))
}

// ParseModel builds a target model from document bytes. template_file references resolve against baseDir.
func ParseModel(data []byte, source, baseDir string) (*model.TargetModel, error) {
	var doc DocumentYaml
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, &model.ConfigError{Source: source, Err: err}
	}

	if strings.TrimSpace(doc.Model.Id) == "" {
		return nil, model.NewConfigError(source, "model.id", "model id is required")
	}

	m := &model.TargetModel{Id: doc.Model.Id}
	if doc.Host != nil {
		m.Host = &model.HostConfig{
			Address:        doc.Host.Address,
			User:           doc.Host.User,
			KeyPath:        doc.Host.KeyPath,
			KnownHostsPath: doc.Host.KnownHosts,
			Insecure:       doc.Host.Insecure,
			Timeout:        doc.Host.Timeout,
		}
	}

	seen := map[model.Ref]bool{}
	for i, ry := range doc.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		spec, err := buildResource(ry, doc.Vars, baseDir)
		if err != nil {
			return nil, &model.ConfigError{Source: source, Field: field, Err: err}
		}
		if seen[spec.Ref()] {
			return nil, model.NewConfigError(source, field, "duplicate identity '%s' for kind '%s'", spec.Identity, spec.Kind)
		}
		seen[spec.Ref()] = true
		m.Resources = append(m.Resources, spec)
	}

	for i, spec := range m.Resources {
		for _, dep := range spec.DependsOn {
			if !seen[dep] {
				return nil, model.NewConfigError(source, fmt.Sprintf("resources[%d].depends_on", i), "unknown resource '%s'", dep)
			}
			if dep == spec.Ref() {
				return nil, model.NewConfigError(source, fmt.Sprintf("resources[%d].depends_on", i), "resource depends on itself")
			}
		}
	}

	names := map[string]bool{}
	for i, py := range doc.Probes {
		field := fmt.Sprintf("probes[%d]", i)
		probe, err := buildProbe(py)
		if err != nil {
			return nil, &model.ConfigError{Source: source, Field: field, Err: err}
		}
		if names[probe.Name] {
			return nil, model.NewConfigError(source, field, "duplicate probe name '%s'", probe.Name)
		}
		names[probe.Name] = true
		m.Probes = append(m.Probes, probe)
	}

	return m, nil
}

func buildResource(ry ResourceYaml, vars map[string]interface{}, baseDir string) (*model.ResourceSpec, error) {
	kind := model.Kind(strings.TrimSpace(ry.Kind))
	kindType, err := model.GetKindType(kind)
	if err != nil {
		return nil, err
	}
	identity := strings.TrimSpace(ry.Identity)
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}

	spec := &model.ResourceSpec{
		Kind:       kind,
		Identity:   identity,
		Mode:       0644,
		EnableLink: ry.EnableLink,
		UnitPath:   ry.UnitPath,
		OnChange:   model.OnChange(ry.OnChange),
		Validate:   ry.Validate,
	}

	switch model.RuntimeState(ry.RuntimeState) {
	case model.RuntimeEnabled, model.RuntimeDisabled:
		spec.RuntimeState = model.RuntimeState(ry.RuntimeState)
	case "":
		spec.RuntimeState = model.RuntimeEnabled
	default:
		return nil, fmt.Errorf("unknown runtime_state '%s'", ry.RuntimeState)
	}
	if kind == model.KindServiceUnit && spec.OnChange == "" {
		spec.OnChange = model.OnChangeRestart
	}

	if ry.Mode != "" {
		mode, err := strconv.ParseUint(ry.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode '%s'", ry.Mode)
		}
		spec.Mode = os.FileMode(mode)
	}

	for _, dep := range ry.DependsOn {
		ref, err := model.ParseRef(dep)
		if err != nil {
			return nil, err
		}
		spec.DependsOn = append(spec.DependsOn, ref)
	}

	if ry.Template != "" && ry.TemplateFile != "" {
		return nil, fmt.Errorf("template and template_file are mutually exclusive")
	}
	text := ry.Template
	if ry.TemplateFile != "" {
		path := ry.TemplateFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read template_file: %w", err)
		}
		text = string(data)
	}
	if ry.Template != "" || ry.TemplateFile != "" {
		content, err := Render(string(spec.Ref()), text, vars)
		if err != nil {
			return nil, err
		}
		spec.Content = content
		spec.HasContent = true
	}

	if err := kindType.Validate(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// Render executes a template against vars only. Missing keys are errors, so the same vars always produce
// the same bytes or fail.
func Render(name, text string, vars map[string]interface{}) ([]byte, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("malformed template: %w", err)
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("unable to render template: %w", err)
	}
	return buf.Bytes(), nil
}

func buildProbe(py ProbeYaml) (*model.HealthProbe, error) {
	if strings.TrimSpace(py.Name) == "" {
		return nil, fmt.Errorf("probe name is required")
	}
	u, err := url.Parse(py.Url)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("probe '%s' has invalid url '%s'", py.Name, py.Url)
	}
	switch u.Scheme {
	case "http", "https", "tcp":
	default:
		return nil, fmt.Errorf("probe '%s' has unsupported scheme '%s'", py.Name, u.Scheme)
	}
	if py.Equals != "" && py.JsonPath == "" {
		return nil, fmt.Errorf("probe '%s' sets equals without json_path", py.Name)
	}

	probe := &model.HealthProbe{
		Name:     py.Name,
		URL:      py.Url,
		Expect:   py.Expect,
		Timeout:  py.Timeout,
		Retry:    model.DefaultRetryPolicy(),
		JsonPath: py.JsonPath,
		Equals:   py.Equals,
	}
	if len(probe.Expect) == 0 && u.Scheme != "tcp" {
		probe.Expect = []int{200}
	}
	if probe.Timeout <= 0 {
		probe.Timeout = model.DefaultProbeTimeout
	}
	if py.Retries != nil {
		if py.Retries.MaxAttempts < 0 {
			return nil, fmt.Errorf("probe '%s' max_attempts must not be negative", py.Name)
		}
		if py.Retries.MaxAttempts > 0 {
			probe.Retry.MaxAttempts = py.Retries.MaxAttempts
		}
		if py.Retries.InitialDelay > 0 {
			probe.Retry.InitialDelay = py.Retries.InitialDelay
		}
		if py.Retries.Multiplier > 0 {
			probe.Retry.Multiplier = py.Retries.Multiplier
		}
		if py.Retries.MaxDelay > 0 {
			probe.Retry.MaxDelay = py.Retries.MaxDelay
		}
	}
	return probe, nil
}
