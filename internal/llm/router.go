package llm

import "strings"

// Role is a pipeline stage that needs a model.
type Role string

const (
	RoleGenerate Role = "generate"
	RoleParse    Role = "parse"
	RoleRewrite  Role = "rewrite"
	RoleExtract  Role = "extract"
)

// Router maps pipeline roles to model ids. Roles without an explicit model use
// the generate model.
type Router struct {
	generate string
	models   map[Role]string
}

func NewRouter(generateModel string, overrides map[Role]string) Router {
	models := make(map[Role]string, len(overrides))
	for role, model := range overrides {
		if model = strings.TrimSpace(model); model != "" {
			models[role] = model
		}
	}
	return Router{generate: strings.TrimSpace(generateModel), models: models}
}

func (r Router) Model(role Role) string {
	if model, ok := r.models[role]; ok {
		return model
	}
	return r.generate
}

// Models returns the effective model of every known role.
func (r Router) Models() map[Role]string {
	out := make(map[Role]string, 4)
	for _, role := range []Role{RoleGenerate, RoleParse, RoleRewrite, RoleExtract} {
		out[role] = r.Model(role)
	}
	return out
}
