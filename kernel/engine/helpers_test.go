package engine

import (
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/inspect"
	"github.com/openziti/fabkeep/kernel/model"
)

const (
	sitePath = "/etc/nginx/sites-available/app.conf"
	siteLink = "/etc/nginx/sites-enabled/app.conf"
	envPath  = "/etc/app/app.env"
	unitPath = "/etc/systemd/system/app.service"
)

var (
	siteRef  = model.NewRef(model.KindProxySite, sitePath)
	nginxRef = model.NewRef(model.KindServiceUnit, "nginx")
	envRef   = model.NewRef(model.KindEnvFile, envPath)
	appRef   = model.NewRef(model.KindServiceUnit, "app")
	ruleRef  = model.NewRef(model.KindFirewallRule, "443/tcp")
)

func siteSpec(content string) *model.ResourceSpec {
	return &model.ResourceSpec{
		Kind:         model.KindProxySite,
		Identity:     sitePath,
		Content:      []byte(content),
		HasContent:   true,
		Mode:         0644,
		RuntimeState: model.RuntimeEnabled,
		EnableLink:   siteLink,
	}
}

func nginxSpec(validate ...string) *model.ResourceSpec {
	return &model.ResourceSpec{
		Kind:         model.KindServiceUnit,
		Identity:     "nginx",
		RuntimeState: model.RuntimeEnabled,
		OnChange:     model.OnChangeReload,
		Validate:     validate,
		DependsOn:    []model.Ref{siteRef},
	}
}

func envSpec(content string) *model.ResourceSpec {
	return &model.ResourceSpec{
		Kind:         model.KindEnvFile,
		Identity:     envPath,
		Content:      []byte(content),
		HasContent:   true,
		Mode:         0600,
		RuntimeState: model.RuntimeEnabled,
	}
}

func appSpec(unit string) *model.ResourceSpec {
	return &model.ResourceSpec{
		Kind:         model.KindServiceUnit,
		Identity:     "app",
		Content:      []byte(unit),
		HasContent:   true,
		Mode:         0644,
		UnitPath:     unitPath,
		RuntimeState: model.RuntimeEnabled,
		OnChange:     model.OnChangeRestart,
		DependsOn:    []model.Ref{envRef},
	}
}

func ruleSpec() *model.ResourceSpec {
	return &model.ResourceSpec{Kind: model.KindFirewallRule, Identity: "443/tcp", RuntimeState: model.RuntimeEnabled}
}

func fullModel() *model.TargetModel {
	return &model.TargetModel{
		Id: "app-server",
		Resources: []*model.ResourceSpec{
			nginxSpec("nginx", "-t"),
			siteSpec("server { listen 443; }"),
			envSpec("PORT=5678\n"),
			appSpec("[Service]\nExecStart=/usr/bin/app\n"),
			ruleSpec(),
		},
	}
}

// runningHost has the site deployed with old content and nginx up.
func runningHost(oldContent string) *host.MemoryHost {
	h := host.NewMemoryHost()
	h.Files.Put(sitePath, []byte(oldContent))
	_ = h.Files.Symlink(sitePath, siteLink)
	h.Units.Set("nginx", host.ServiceStatus{Enabled: true, Active: true})
	return h
}

func newExecutor(h *host.MemoryHost) *Executor {
	return NewExecutor(h.Host, inspect.NewInspector(h.Host, 2))
}

func pendingOps(plan *Plan) []string {
	var out []string
	for _, a := range plan.Pending() {
		out = append(out, a.String())
	}
	return out
}
