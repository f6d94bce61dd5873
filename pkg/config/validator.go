package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/meshrun/meshrun/pkg/models"
)

var tagValidator = validator.New(validator.WithRequiredStructEnabled())

// validate runs struct-tag validation (via go-playground/validator) and
// then the cross-field checks a tag can't express: that hook actions
// carry the parameters their action requires, that model policies are
// resolvable in principle, and that template base references exist and
// don't point at themselves.
func validate(s *Settings) error {
	if err := tagValidator.Struct(s); err != nil {
		return translateTagErrors(err)
	}

	errs := &ValidationErrors{}
	for id, tmpl := range s.Templates {
		validateTemplate(id, tmpl, s, errs)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func translateTagErrors(err error) error {
	errs := &ValidationErrors{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			errs.Add(fe.Namespace(), fe.Value(), "failed %q validation", fe.Tag())
		}
		return errs
	}
	errs.Add("", nil, "%v", err)
	return errs
}

func validateTemplate(id string, t ClusterTemplate, s *Settings, errs *ValidationErrors) {
	if t.Base != "" {
		if t.Base == id {
			errs.Add(fmt.Sprintf("templates.%s.base", id), t.Base, "template cannot be its own base")
		} else if _, ok := s.Templates[t.Base]; !ok {
			errs.Add(fmt.Sprintf("templates.%s.base", id), t.Base, "base template %q not found", t.Base)
		}
	}

	for name, agent := range t.Agents {
		field := fmt.Sprintf("templates.%s.agents.%s", id, name)
		if agent.Model.Static == "" && len(agent.Model.Rules) == 0 {
			errs.Add(field+".model", nil, "model policy must set either static or rules")
		}
		for _, h := range agent.Hooks.OnStart {
			validateHook(field, h, errs)
		}
		for _, h := range agent.Hooks.OnComplete {
			validateHook(field, h, errs)
		}
		for _, h := range agent.Hooks.OnError {
			validateHook(field, h, errs)
		}
	}
}

// requiredHookParams lists the parameter keys each hook action must
// receive; noop takes none, the others need enough to act on.
var requiredHookParams = map[models.HookAction][]string{
	models.HookPublishMessage:  {"type", "payload"},
	models.HookStopCluster:     nil,
	models.HookSpawnSubCluster: {"template"},
	models.HookNoop:            nil,
}

func validateHook(field string, h models.HookSpec, errs *ValidationErrors) {
	required, ok := requiredHookParams[h.Action]
	if !ok {
		errs.Add(field+".hooks."+h.Name+".action", h.Action, "unknown hook action")
		return
	}
	for _, key := range required {
		if _, present := h.Params[key]; !present {
			errs.Add(field+".hooks."+h.Name+".params", key, "action %q requires parameter %q", h.Action, key)
		}
	}
}
