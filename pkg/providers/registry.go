package providers

import "github.com/hostadm/hostadm/pkg/engine"

// NewDefaultRegistry registers every built-in provider against the given
// host surface. The kind set is closed; new kinds are added here, not
// discovered at runtime.
func NewDefaultRegistry(sys System) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, p := range []engine.Provider{
		NewPackageProvider(sys),
		NewFileProvider(sys),
		NewTidyProvider(sys),
		NewSudoRuleProvider(sys),
		NewPamRuleProvider(sys),
		NewPolkitRuleProvider(sys),
		NewSelinuxLoginProvider(sys),
		NewCronTriggerProvider(sys),
	} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
