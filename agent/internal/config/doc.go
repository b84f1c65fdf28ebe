// Package config loads and watches the agent configuration file.
//
// The file has a single top-level "agent" section:
//
//	agent:
//	  server_endpoint: "localhost:50051"
//	  interval: 2s
//	  buffer_size: 1000
//	  server_auth:
//	    mode: apikey          # mtls | apikey | none
//	    key_env: FORGEWATCH_API_KEY
//	  machines:
//	    - id: machine1
//	      base_speed: 12000
//
// Load(path) applies defaults, then validates. Watch(ctx, path, onChange)
// reloads on write and hands the new Config to onChange; the agent uses it to
// swap the simulated machine set without a restart.
package config
