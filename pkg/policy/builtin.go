package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		attentionHeadsPolicy(),
		classConditioningPolicy(),
		respacingPolicy(),
		odeSolverPolicy(),
	}
}

// attentionHeadsPolicy flags models that set both ways of sizing attention.
func attentionHeadsPolicy() Policy {
	return Policy{
		Name:        "attention-heads",
		Description: "Warns when both num_attention_head_channels and num_attention_heads are set",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"model", "attention"},
		Rego: `package diffconf.policies.attention_heads

import rego.v1

# Head channels take priority; the head count is ignored.
deny contains violation if {
	model := input.config.model
	model.num_attention_head_channels != null
	model.num_attention_heads != null
	violation := {
		"message": sprintf("num_attention_head_channels=%v takes priority, num_attention_heads=%v is ignored", [model.num_attention_head_channels, model.num_attention_heads]),
		"path": "model.num_attention_heads",
		"remediation": "set only one of num_attention_head_channels and num_attention_heads",
	}
}
`,
	}
}

// classConditioningPolicy flags class conditioning without classes.
func classConditioningPolicy() Policy {
	return Policy{
		Name:        "class-conditioning",
		Description: "Warns when class_cond is enabled with a single class",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"model", "dataset"},
		Rego: `package diffconf.policies.class_conditioning

import rego.v1

deny contains violation if {
	model := input.config.model
	model.class_cond
	model.num_classes <= 1
	violation := {
		"message": sprintf("class_cond is enabled but the dataset has %v class", [model.num_classes]),
		"path": "model.class_cond",
		"remediation": "set dataset.num_classes or disable model.class_cond",
	}
}

deny contains violation if {
	model := input.config.model
	not model.class_cond
	model.class_cond_drop_rate > 0
	violation := {
		"message": "class_cond_drop_rate has no effect without class_cond",
		"path": "model.class_cond_drop_rate",
		"severity": "info",
	}
}
`,
	}
}

// respacingPolicy checks the diffusion schedule.
func respacingPolicy() Policy {
	return Policy{
		Name:        "respacing",
		Description: "Requires respacing_step to divide max_timesteps and t_start to stay within max_timesteps",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"diffusion"},
		Rego: `package diffconf.policies.respacing

import rego.v1

deny contains violation if {
	diffusion := input.config.diffusion
	diffusion.respacing_step > 0
	diffusion.max_timesteps % diffusion.respacing_step != 0
	violation := {
		"message": sprintf("respacing_step %v does not divide max_timesteps %v", [diffusion.respacing_step, diffusion.max_timesteps]),
		"path": "diffusion.respacing_step",
	}
}

deny contains violation if {
	diffusion := input.config.diffusion
	diffusion.t_start > diffusion.max_timesteps
	violation := {
		"message": sprintf("t_start %v exceeds max_timesteps %v", [diffusion.t_start, diffusion.max_timesteps]),
		"path": "diffusion.t_start",
		"remediation": "remove t_start to start from max_timesteps",
	}
}
`,
	}
}

// odeSolverPolicy flags generation settings where ddim is ignored.
func odeSolverPolicy() Policy {
	return Policy{
		Name:        "ode-solver",
		Description: "Warns when generate.ode_solver is set together with generate.ddim",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"generate"},
		Rego: `package diffconf.policies.ode_solver

import rego.v1

deny contains violation if {
	gen := input.config.generate
	gen.ddim
	gen.ode_solver != null
	violation := {
		"message": sprintf("ode_solver %v is set, ddim sampling is not used", [gen.ode_solver]),
		"path": "generate.ddim",
		"remediation": "disable ddim or remove ode_solver",
	}
}
`,
	}
}
