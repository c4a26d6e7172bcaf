package providers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostadm/hostadm/pkg/engine"
)

func fileResource(id, path, content, mode string) *engine.Resource {
	return &engine.Resource{
		ID:     id,
		Kind:   engine.KindFile,
		Ensure: engine.EnsurePresent,
		Attributes: map[string]any{
			"path":    path,
			"content": content,
			"mode":    mode,
		},
	}
}

// roundTrip runs read/diff/apply and returns the change set of the first
// pass. The second pass must diff to nil.
func roundTrip(t *testing.T, p engine.Provider, res *engine.Resource) *engine.ChangeSet {
	t.Helper()
	ctx := context.Background()

	current, err := p.Read(ctx, res)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	changes, err := p.Diff(res, current)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if changes != nil {
		if err := p.Apply(ctx, res, changes); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	verified, err := p.Read(ctx, res)
	if err != nil {
		t.Fatalf("Verify read failed: %v", err)
	}
	remaining, err := p.Diff(res, verified)
	if err != nil {
		t.Fatalf("Verify diff failed: %v", err)
	}
	if remaining != nil {
		t.Fatalf("Expected convergence, still have: %s", remaining.Summary())
	}
	return changes
}

func TestFileProvider_CreateUpdateRemove(t *testing.T) {
	sys := NewMemSystem()
	p := NewFileProvider(sys)

	res := fileResource("file:motd", "/etc/motd", "welcome\n", "0644")
	changes := roundTrip(t, p, res)
	if changes == nil || changes.Changes[0].Action != engine.ChangeCreate {
		t.Fatalf("Expected create change, got %+v", changes)
	}
	if got := string(sys.Files["/etc/motd"]); got != "welcome\n" {
		t.Errorf("Expected file content written, got %q", got)
	}

	// Content drift is corrected.
	sys.Files["/etc/motd"] = []byte("tampered")
	changes = roundTrip(t, p, res)
	if changes == nil {
		t.Fatal("Expected update change for drifted content")
	}

	// Converged state diffs to nil.
	current, _ := p.Read(context.Background(), res)
	if cs, _ := p.Diff(res, current); cs != nil {
		t.Errorf("Expected nil diff when converged, got %s", cs.Summary())
	}

	// Removal.
	res.Ensure = engine.EnsureAbsent
	roundTrip(t, p, res)
	if _, exists := sys.Files["/etc/motd"]; exists {
		t.Error("Expected file removed")
	}
}

func TestFileProvider_InvalidMode(t *testing.T) {
	p := NewFileProvider(NewMemSystem())
	res := fileResource("file:x", "/etc/x", "", "99x")

	_, err := p.Diff(res, engine.NotFound())
	if err == nil {
		t.Fatal("Expected schema error for invalid mode, got nil")
	}
	if !engine.IsSchemaError(err) {
		t.Fatalf("Expected schema error, got: %v", err)
	}
}

func TestTidyProvider_RemovesMatches(t *testing.T) {
	sys := NewMemSystem()
	sys.Files["/var/cache/app/a.tmp"] = []byte("x")
	sys.Files["/var/cache/app/b.tmp"] = []byte("y")
	sys.Files["/var/cache/app/keep.conf"] = []byte("z")

	p := NewTidyProvider(sys)
	res := &engine.Resource{
		ID:     "tidy:cache",
		Kind:   engine.KindTidy,
		Ensure: engine.EnsureAbsent,
		Attributes: map[string]any{
			"path":    "/var/cache/app",
			"matches": "*.tmp",
		},
	}

	changes := roundTrip(t, p, res)
	if len(changes.Changes) != 2 {
		t.Fatalf("Expected 2 removals, got %d", len(changes.Changes))
	}
	if _, exists := sys.Files["/var/cache/app/keep.conf"]; !exists {
		t.Error("Expected non-matching file kept")
	}

	// An already-tidy directory reads as not found and diffs to nil.
	current, err := p.Read(context.Background(), res)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if current.Exists {
		t.Error("Expected tidy directory to read as not found")
	}
}

func TestTidyProvider_Recursive(t *testing.T) {
	sys := NewMemSystem()
	sys.Files["/var/log/app/deep/nested.log"] = []byte("x")
	sys.Files["/var/log/app/top.log"] = []byte("y")

	p := NewTidyProvider(sys)
	res := &engine.Resource{
		ID:     "tidy:logs",
		Kind:   engine.KindTidy,
		Ensure: engine.EnsureAbsent,
		Attributes: map[string]any{
			"path":      "/var/log/app",
			"matches":   "*.log",
			"recursive": true,
		},
	}

	changes := roundTrip(t, p, res)
	if len(changes.Changes) != 2 {
		t.Fatalf("Expected 2 removals including nested, got %d", len(changes.Changes))
	}
}

func TestPackageProvider_Lifecycle(t *testing.T) {
	sys := NewMemSystem()
	sys.Latest["nginx"] = "1.24"
	p := NewPackageProvider(sys)

	res := &engine.Resource{
		ID:         "package:nginx",
		Kind:       engine.KindPackage,
		Ensure:     engine.EnsurePresent,
		Attributes: map[string]any{"name": "nginx"},
	}

	roundTrip(t, p, res)
	if sys.Packages["nginx"] == "" {
		t.Fatal("Expected nginx installed")
	}

	// ensure=latest upgrades an outdated install.
	sys.Packages["nginx"] = "1.20"
	res.Ensure = engine.EnsureLatest
	changes := roundTrip(t, p, res)
	if changes == nil {
		t.Fatal("Expected upgrade change")
	}
	if sys.Packages["nginx"] != "1.24" {
		t.Errorf("Expected 1.24 after upgrade, got %s", sys.Packages["nginx"])
	}

	// Removal.
	res.Ensure = engine.EnsureAbsent
	roundTrip(t, p, res)
	if _, installed := sys.Packages["nginx"]; installed {
		t.Error("Expected nginx removed")
	}
}

// slowCandidateSystem stalls repository metadata queries until the caller's
// context expires, like a hung package manager.
type slowCandidateSystem struct {
	*MemSystem
}

func (s *slowCandidateSystem) CandidateVersion(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPackageProvider_LatestCandidateQueryHonorsTimeout(t *testing.T) {
	mem := NewMemSystem()
	mem.Packages["nginx"] = "1.20"
	sys := &slowCandidateSystem{MemSystem: mem}

	registry := engine.NewRegistry()
	if err := registry.Register(NewPackageProvider(sys)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	applier := engine.NewApplier(registry, zerolog.Nop(), nil, nil,
		engine.ApplyOptions{Timeout: 50 * time.Millisecond})

	cat, err := engine.NewCatalog([]engine.Resource{{
		ID:         "package:nginx",
		Kind:       engine.KindPackage,
		Ensure:     engine.EnsureLatest,
		Attributes: map[string]any{"name": "nginx"},
	}})
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	start := time.Now()
	report, err := applier.Apply(context.Background(), cat)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Expected the run bounded by the resource timeout, took %s", elapsed)
	}

	entry := report.Entry("package:nginx")
	if entry.Outcome != engine.OutcomeFailed {
		t.Fatalf("Expected failed, got %s (message %q)", entry.Outcome, entry.Message)
	}
	if !strings.Contains(entry.Message, string(engine.ReasonExternalToolFailed)) {
		t.Errorf("Expected external_tool_failed in message, got %q", entry.Message)
	}
}

func TestSudoRuleProvider_Render(t *testing.T) {
	sys := NewMemSystem()
	p := NewSudoRuleProvider(sys)

	res := &engine.Resource{
		ID:     "sudo_rule:admin",
		Kind:   engine.KindSudoRule,
		Ensure: engine.EnsurePresent,
		Attributes: map[string]any{
			"name":     "10-admin",
			"group":    "admins",
			"commands": []string{"/usr/bin/systemctl", "/usr/sbin/semanage"},
			"nopasswd": true,
		},
	}

	roundTrip(t, p, res)

	content := string(sys.Files["/etc/sudoers.d/10-admin"])
	if !strings.Contains(content, "%admins ALL=(ALL) NOPASSWD: /usr/bin/systemctl") {
		t.Errorf("Unexpected sudoers content:\n%s", content)
	}
	if !strings.Contains(content, "NOPASSWD: /usr/sbin/semanage") {
		t.Errorf("Expected second command line:\n%s", content)
	}
	if sys.Modes["/etc/sudoers.d/10-admin"] != 0o440 {
		t.Errorf("Expected mode 0440, got %o", sys.Modes["/etc/sudoers.d/10-admin"])
	}
}

func TestPamRuleProvider_ManagedBlock(t *testing.T) {
	sys := NewMemSystem()
	sys.Files["/etc/security/access.conf"] = []byte("# local rule\n- : ALL : cron\n")
	p := NewPamRuleProvider(sys)

	res := &engine.Resource{
		ID:     "pam_rule:admin-access",
		Kind:   engine.KindPamRule,
		Ensure: engine.EnsurePresent,
		Attributes: map[string]any{
			"permission": "+",
			"who":        "(admins)",
			"origins":    []string{"10.0.0.0/8", "LOCAL"},
		},
	}

	roundTrip(t, p, res)

	content := string(sys.Files["/etc/security/access.conf"])
	if !strings.Contains(content, "# local rule") {
		t.Error("Expected unmanaged lines preserved")
	}
	if !strings.Contains(content, "+ : (admins) : 10.0.0.0/8 LOCAL") {
		t.Errorf("Expected managed rule line:\n%s", content)
	}
	if !strings.Contains(content, "# BEGIN hostadm pam_rule:admin-access") {
		t.Errorf("Expected begin marker:\n%s", content)
	}

	// Removal strips the block, keeps everything else.
	res.Ensure = engine.EnsureAbsent
	roundTrip(t, p, res)
	content = string(sys.Files["/etc/security/access.conf"])
	if strings.Contains(content, "hostadm") {
		t.Errorf("Expected managed block removed:\n%s", content)
	}
	if !strings.Contains(content, "# local rule") {
		t.Error("Expected unmanaged lines preserved after removal")
	}
}

func TestPolkitRuleProvider_Render(t *testing.T) {
	sys := NewMemSystem()
	p := NewPolkitRuleProvider(sys)

	res := &engine.Resource{
		ID:     "polkit_rule:admin",
		Kind:   engine.KindPolkitRule,
		Ensure: engine.EnsurePresent,
		Attributes: map[string]any{
			"name":    "50-admin.rules",
			"group":   "admins",
			"result":  "auth_admin_keep",
			"actions": []string{"org.freedesktop.systemd1.*", "org.freedesktop.login1.reboot"},
		},
	}

	roundTrip(t, p, res)

	content := string(sys.Files["/etc/polkit-1/rules.d/50-admin.rules"])
	if !strings.Contains(content, `action.id.indexOf("org.freedesktop.systemd1.") == 0`) {
		t.Errorf("Expected prefix match for wildcard action:\n%s", content)
	}
	if !strings.Contains(content, `action.id == "org.freedesktop.login1.reboot"`) {
		t.Errorf("Expected exact match for plain action:\n%s", content)
	}
	if !strings.Contains(content, `subject.isInGroup("admins")`) {
		t.Errorf("Expected group check:\n%s", content)
	}
	if !strings.Contains(content, "polkit.Result.AUTH_ADMIN_KEEP") {
		t.Errorf("Expected mapped result constant:\n%s", content)
	}
}

func TestSelinuxLoginProvider_Lifecycle(t *testing.T) {
	sys := NewMemSystem()
	p := NewSelinuxLoginProvider(sys)

	res := &engine.Resource{
		ID:     "selinux_login:admin",
		Kind:   engine.KindSelinuxLogin,
		Ensure: engine.EnsurePresent,
		Attributes: map[string]any{
			"login":  "%admins",
			"seuser": "staff_u",
			"range":  "s0-s0:c0.c1023",
		},
	}

	roundTrip(t, p, res)
	if got := sys.Logins["%admins"]; got != "staff_u s0-s0:c0.c1023" {
		t.Fatalf("Expected login mapping, got %q", got)
	}

	// Mapping drift (wrong seuser) triggers a modify, not an add.
	sys.Logins["%admins"] = "user_u s0"
	sys.Commands = nil
	roundTrip(t, p, res)
	if got := sys.Logins["%admins"]; got != "staff_u s0-s0:c0.c1023" {
		t.Fatalf("Expected corrected mapping, got %q", got)
	}
	foundModify := false
	for _, cmd := range sys.Commands {
		if strings.HasPrefix(cmd, "semanage login -m") {
			foundModify = true
		}
		if strings.HasPrefix(cmd, "semanage login -a") {
			t.Errorf("Expected modify for existing mapping, got add: %s", cmd)
		}
	}
	if !foundModify {
		t.Errorf("Expected semanage login -m, commands: %v", sys.Commands)
	}

	// Removal.
	res.Ensure = engine.EnsureAbsent
	roundTrip(t, p, res)
	if _, exists := sys.Logins["%admins"]; exists {
		t.Error("Expected login mapping removed")
	}
}

func TestSelinuxLoginProvider_CommandFailure(t *testing.T) {
	sys := NewMemSystem()
	sys.FailCommands["semanage login -l"] = context.DeadlineExceeded
	p := NewSelinuxLoginProvider(sys)

	res := &engine.Resource{
		ID:         "selinux_login:admin",
		Kind:       engine.KindSelinuxLogin,
		Ensure:     engine.EnsurePresent,
		Attributes: map[string]any{"login": "%admins", "seuser": "staff_u"},
	}

	_, err := p.Read(context.Background(), res)
	if err == nil {
		t.Fatal("Expected provider error, got nil")
	}
	if !engine.IsProviderError(err, engine.ReasonExternalToolFailed) {
		t.Fatalf("Expected external_tool_failed, got: %v", err)
	}
}

func TestCronTriggerProvider_Render(t *testing.T) {
	sys := NewMemSystem()
	p := NewCronTriggerProvider(sys)

	res := &engine.Resource{
		ID:     "cron_trigger:prelink",
		Kind:   engine.KindCronTrigger,
		Ensure: engine.EnsurePresent,
		Attributes: map[string]any{
			"name":     "hostadm-prelink",
			"command":  "/usr/sbin/prelink -av -mR",
			"schedule": "30 4 * * *",
		},
	}

	roundTrip(t, p, res)

	content := string(sys.Files["/etc/cron.d/hostadm-prelink"])
	if !strings.Contains(content, "30 4 * * * root /usr/sbin/prelink -av -mR") {
		t.Errorf("Unexpected cron content:\n%s", content)
	}

	// Removal.
	res.Ensure = engine.EnsureAbsent
	roundTrip(t, p, res)
	if _, exists := sys.Files["/etc/cron.d/hostadm-prelink"]; exists {
		t.Error("Expected cron drop-in removed")
	}
}

func TestNewDefaultRegistry_AllKinds(t *testing.T) {
	registry, err := NewDefaultRegistry(NewMemSystem())
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}

	kinds := []engine.Kind{
		engine.KindPackage, engine.KindFile, engine.KindTidy,
		engine.KindSudoRule, engine.KindPamRule, engine.KindPolkitRule,
		engine.KindSelinuxLogin, engine.KindCronTrigger,
	}
	for _, kind := range kinds {
		if _, err := registry.Get(kind); err != nil {
			t.Errorf("Expected provider for kind %s: %v", kind, err)
		}
	}
}
