package policy

// BuiltinPolicies returns the policies every catalog is gated by.
func BuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		dangerousDeletePolicy(),
	}
}

// resourceNamingPolicy enforces the kind:title resource ID convention.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource IDs must follow the kind:title convention (lowercase, hyphens)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		Rego: `package hostadm.policies.naming

import rego.v1

deny contains violation if {
	input.resource
	id := input.resource.id
	not regex.match("^[a-z_]+:[a-z0-9_.-]+$", id)
	violation := {
		"message": sprintf("resource ID %q must match kind:title (lowercase, hyphens)", [id]),
		"severity": "error",
		"resource": id,
	}
}
`,
	}
}

// dangerousDeletePolicy rejects recursive deletion outside the allowlisted
// housekeeping roots. A mis-resolved parameter must never turn a tidy
// resource into a sweep of arbitrary host paths.
func dangerousDeletePolicy() Policy {
	return Policy{
		Name:        "dangerous-recursive-delete",
		Description: "Recursive tidy resources must target an allowlisted housekeeping root",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package hostadm.policies.delete

import rego.v1

allowed_roots := ["/var/log/", "/var/cache/", "/tmp/", "/etc/hostadm/"]

deny contains violation if {
	input.resource.kind == "tidy"
	input.resource.attributes.recursive == true
	path := input.resource.attributes.path
	not path_allowed(path)
	violation := {
		"message": sprintf("recursive delete of %q is outside the allowlisted roots", [path]),
		"severity": "error",
		"resource": input.resource.id,
	}
}

deny contains violation if {
	input.resource.kind == "tidy"
	path := input.resource.attributes.path
	count(path) < 5
	violation := {
		"message": sprintf("tidy path %q is too close to the filesystem root", [path]),
		"severity": "error",
		"resource": input.resource.id,
	}
}

path_allowed(path) if {
	some root in allowed_roots
	startswith(concat("", [path, "/"]), root)
}
`,
	}
}
