package rbac

import (
	"fmt"
	"html/template"
)

// Allows reports whether authz satisfies any of the required permissions.
// It is false while authz is loading and for an empty requirement.
func Allows(authz Context, required ...Permission) bool {
	if authz.Loading || len(required) == 0 {
		return false
	}
	return authz.Permissions.HasAny(required...)
}

// Render returns content when authz satisfies required, fallback otherwise.
// While authz is loading nothing is rendered, fallback included.
func Render(authz Context, required []Permission, content, fallback template.HTML) template.HTML {
	if authz.Loading {
		return ""
	}
	if Allows(authz, required...) {
		return content
	}
	return fallback
}

// TemplateFuncs exposes the gate to html/template:
//
//	{{if can .Authz "manage_users"}}...{{end}}
//	{{if can .Authz "view_patients" "view_queue"}}...{{else if not (loading .Authz)}}fallback{{end}}
//	{{gate .Authz "<a href=/queue>Cola</a>" "" "view_queue"}}
//
// Unknown permission names fail template execution.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"can": func(authz Context, names ...string) (bool, error) {
			perms, err := templatePermissions(names)
			if err != nil {
				return false, err
			}
			return Allows(authz, perms...), nil
		},
		"gate": func(authz Context, content, fallback template.HTML, names ...string) (template.HTML, error) {
			perms, err := templatePermissions(names)
			if err != nil {
				return "", err
			}
			return Render(authz, perms, content, fallback), nil
		},
		"loading": func(authz Context) bool {
			return authz.Loading
		},
	}
}

func templatePermissions(names []string) ([]Permission, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("rbac: gate needs at least one permission")
	}
	return ParsePermissions(names)
}
