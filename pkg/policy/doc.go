// Package policy evaluates Open Policy Agent (Rego) policies against resolved
// diffconf configs.
//
// Schema validation in pkg/config checks each field on its own. Policies
// check relations between fields that a config may legally violate but
// rarely should, such as a t_start beyond max_timesteps.
//
// # Input
//
// Every policy sees the same input document:
//
//	{
//	    "kind":   "train" | "generate" | "loaded",
//	    "config": <resolved snapshot, derived fields included>
//	}
//
// The config is the JSON form of TrainScriptConfig.Resolve,
// GenScriptConfig.Resolve or LoadedConfig.Resolve.
//
// # Writing Policies
//
// A policy module defines a deny set. Entries are strings or objects:
//
//	package diffconf.policies.lr
//
//	import rego.v1
//
//	# Learning rates above 1e-3 usually diverge.
//	deny contains violation if {
//	    input.config.train.lr > 0.001
//	    violation := {
//	        "message": "lr is unusually high",
//	        "path": "train.lr",
//	        "severity": "warning",
//	    }
//	}
//
// Files ending in .rego become warning-level policies named after the file;
// the leading comment block is the description. Files ending in .json hold
// a Policy object and can set any severity.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.Evaluate(ctx, policy.KindTrain, cfg.Resolve())
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    // error or critical violations found
//	}
//
// # Built-in Policies
//
//   - attention-heads (warning): both head channels and head count set
//   - class-conditioning (warning): class_cond with a single class
//   - respacing (error): respacing_step must divide max_timesteps, and
//     t_start must not exceed it
//   - ode-solver (warning): generate.ode_solver set together with ddim
package policy
