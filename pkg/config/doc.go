// Package config loads and validates the inspection service configuration.
//
// Configuration is read from a YAML file layered over DefaultConfig, then
// overridden from the environment (INSPECTOR_LISTEN, INSPECTOR_DB_PATH,
// INSPECTOR_SCRIPTS_DIR, INSPECTOR_TRANSPORT, INSPECTOR_LOG_LEVEL and
// CONSUL_HTTP_ADDR).
//
// Validation runs in two passes. Struct tags are checked with
// go-playground/validator, then the whole document is unified with a CUE
// schema from the SchemaRegistry. The registry also carries the schema used
// for playbook security rule files.
//
// # Usage Example
//
//	cfg, err := config.Load("inspector.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Transport.Kind)
package config
