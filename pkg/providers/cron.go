package providers

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hostadm/hostadm/pkg/engine"
)

// cronDropDir is where cron trigger drop-ins are managed.
const cronDropDir = "/etc/cron.d"

// CronTriggerProvider manages one drop-in under /etc/cron.d that fires a
// command on a schedule. The artifacts the command produces are not owned
// here; removing those is a separate tidy or file resource.
//
// Attributes: name (drop-in file name, required), command (required),
// schedule (five-field cron expression, default daily at 04:00), user
// (default root).
type CronTriggerProvider struct {
	sys System
}

// NewCronTriggerProvider creates the cron trigger provider.
func NewCronTriggerProvider(sys System) *CronTriggerProvider {
	return &CronTriggerProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *CronTriggerProvider) Kind() engine.Kind { return engine.KindCronTrigger }

// Read implements engine.Provider.
func (p *CronTriggerProvider) Read(_ context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	return readManagedFile(p.sys, p.path(res))
}

// Diff implements engine.Provider.
func (p *CronTriggerProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	return diffManagedFile(res, p.render(res), 0o644, current), nil
}

// Apply implements engine.Provider.
func (p *CronTriggerProvider) Apply(ctx context.Context, res *engine.Resource, _ *engine.ChangeSet) error {
	return applyManagedFile(ctx, p.sys, res, p.path(res), p.render(res), 0o644)
}

func (p *CronTriggerProvider) path(res *engine.Resource) string {
	return path.Join(cronDropDir, res.StringAttr("name"))
}

// render produces the cron.d drop-in. cron.d entries carry the user field,
// unlike a crontab.
func (p *CronTriggerProvider) render(res *engine.Resource) string {
	schedule := res.StringAttr("schedule")
	if schedule == "" {
		schedule = "0 4 * * *"
	}
	user := res.StringAttr("user")
	if user == "" {
		user = "root"
	}

	var sb strings.Builder
	sb.WriteString("# Managed by hostadm. Local changes will be overwritten.\n")
	fmt.Fprintf(&sb, "%s %s %s\n", schedule, user, res.StringAttr("command"))
	return sb.String()
}
