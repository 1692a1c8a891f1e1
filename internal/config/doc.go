// Package config provides loading and environment overlay for mcptap
// configuration. It exposes a Default() baseline, Load() for JSON or YAML
// files, and FromEnv() for MCPTAP_* overrides.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/mcptap.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{DataDir: config.DefaultDataDir(), Config: cfg})
//	defer rt.Close()
package config
